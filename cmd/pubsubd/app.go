package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/config"
	"github.com/ceyewan/pubsub/connector"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/discovery"
	"github.com/ceyewan/pubsub/metrics"
)

// AppConfig pubsubd 的完整配置
//
//	framework_uuid: ""          # 为空时每次启动生成
//	admin_type: "tcp"
//	log:
//	  level: info
//	etcd:
//	  endpoints: ["127.0.0.1:2379"]
//	directory:
//	  backend: etcd
//	discovery:
//	  root_path: pubsub/discovery
//	  ttl: 30s
//	http:
//	  addr: ":8080"
type AppConfig struct {
	FrameworkUUID string               `mapstructure:"framework_uuid"`
	AdminType     string               `mapstructure:"admin_type"`
	Log           clog.Config          `mapstructure:"log"`
	Etcd          connector.EtcdConfig `mapstructure:"etcd"`
	Directory     directory.Config     `mapstructure:"directory"`
	Discovery     discovery.Config     `mapstructure:"discovery"`
	Metrics       metrics.Config       `mapstructure:"metrics"`
	HTTP          HTTPConfig           `mapstructure:"http"`
}

// HTTPConfig 诊断服务器配置
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// defaults 注册所有 key，使 PUBSUB_* 环境变量都能生效
func defaults() map[string]any {
	return map[string]any{
		"framework_uuid": "",
		"admin_type":     "tcp",

		"log.level":      "info",
		"log.format":     "console",
		"log.output":     "stdout",
		"log.add_source": false,

		"etcd.endpoints":       []string{"127.0.0.1:2379"},
		"etcd.username":        "",
		"etcd.password":        "",
		"etcd.dial_timeout":    "5s",
		"etcd.connect_timeout": "5s",

		"directory.backend":                  directory.BackendEtcd,
		"directory.watch_timeout":            "5s",
		"directory.history_size":             1000,
		"directory.breaker.enabled":          true,
		"directory.breaker.timeout":          "10s",
		"directory.breaker.failure_ratio":    0.6,
		"directory.breaker.minimum_requests": 5,

		"discovery.root_path":     discovery.DefaultRootPath,
		"discovery.ttl":           "30s",
		"discovery.write_rate":    0,
		"discovery.write_burst":   10,
		"discovery.close_timeout": "5s",
		"discovery.verbose":       false,

		"metrics.enabled":      true,
		"metrics.service_name": "pubsubd",
		"metrics.version":      version,
		"metrics.path":         "/metrics",

		"http.addr":             ":8080",
		"http.shutdown_timeout": "5s",
	}
}

// loadConfig 加载配置；backend 非空时覆盖目录后端
func loadConfig(ctx context.Context, opts *rootOptions) (*AppConfig, config.Loader, error) {
	loader, err := config.New(&config.Config{
		Name:  opts.configName,
		Paths: opts.configDirs,
	}, config.WithDefaults(defaults()))
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, err
	}

	cfg := &AppConfig{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, nil, config.WrapLoadError(err, "unmarshal")
	}
	if opts.backend != "" {
		cfg.Directory.Backend = opts.backend
	}
	if cfg.FrameworkUUID == "" {
		cfg.FrameworkUUID = uuid.NewString()
	}
	return cfg, loader, nil
}
