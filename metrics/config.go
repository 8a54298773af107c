package metrics

// Config 指标系统配置
//
//	metrics:
//	  enabled: true
//	  service_name: "pubsubd"
//	  version: "v0.1.0"
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`

	// Version 作为 OpenTelemetry Resource 的 service.version
	Version string `mapstructure:"version" yaml:"version" json:"version"`

	// Path 指标的 HTTP 路径，由诊断服务器挂载
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// NewDevDefaultConfig 返回开发环境默认配置
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "pubsubd"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
