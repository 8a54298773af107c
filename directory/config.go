package directory

import (
	"time"

	"github.com/ceyewan/pubsub/xerrors"
)

// Config 目录客户端配置
type Config struct {
	// Backend 目录实现：etcd | memory
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// WatchTimeout 单次 Watch 调用的长轮询时间，超时返回 (nil, nil)
	WatchTimeout time.Duration `json:"watch_timeout" yaml:"watch_timeout" mapstructure:"watch_timeout"`

	// HistorySize 内存实现保留的事件数，超出后最早的事件被清除
	HistorySize int `json:"history_size" yaml:"history_size" mapstructure:"history_size"`

	// SweepInterval 内存实现检查过期键的间隔
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" mapstructure:"sweep_interval"`

	// Breaker 熔断配置，Enabled 为 false 时不启用
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig 目录调用的熔断配置
//
// 只有 ErrUnavailable 计为失败，超时和键不存在不会触发熔断。
type BreakerConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxRequests     uint32        `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	Interval        time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	FailureRatio    float64       `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`
	MinimumRequests uint32        `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

const (
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

func (c *Config) setDefaults() {
	if c.Backend == "" {
		c.Backend = BackendEtcd
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 100 * time.Millisecond
	}
	b := &c.Breaker
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.Timeout == 0 {
		b.Timeout = 10 * time.Second
	}
	if b.FailureRatio == 0 {
		b.FailureRatio = 0.6
	}
	if b.MinimumRequests == 0 {
		b.MinimumRequests = 5
	}
}

func (c *Config) validate() error {
	c.setDefaults()
	if c.Backend != BackendEtcd && c.Backend != BackendMemory {
		return xerrors.Wrapf(ErrInvalidConfig, "backend %q must be etcd or memory", c.Backend)
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "breaker failure ratio %v out of range", c.Breaker.FailureRatio)
	}
	return nil
}
