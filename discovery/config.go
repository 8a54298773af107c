package discovery

import (
	"strings"
	"time"

	"github.com/ceyewan/pubsub/xerrors"
)

// DefaultRootPath 目录中端点信息的默认根路径
const DefaultRootPath = "pubsub/discovery"

// Config 发现组件配置
type Config struct {
	// RootPath 目录根路径，端点写在 RootPath/scope/topic/frameworkUUID/endpointUUID
	RootPath string `json:"root_path" yaml:"root_path" mapstructure:"root_path"`

	// TTL 目录项的租约时长；写入方每 TTL/2 续约一次，监听方出错后等待 TTL/4 重试
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// WriteRate 续约循环每秒最多发出的目录写请求数，0 表示不限制
	WriteRate float64 `json:"write_rate" yaml:"write_rate" mapstructure:"write_rate"`

	// WriteBurst 写请求的突发上限，默认 10
	WriteBurst int `json:"write_burst" yaml:"write_burst" mapstructure:"write_burst"`

	// CloseTimeout 关闭时删除已发布目录项的总超时，默认 5s
	CloseTimeout time.Duration `json:"close_timeout" yaml:"close_timeout" mapstructure:"close_timeout"`

	// Verbose 为 true 时以 info 级别记录每个目录事件
	Verbose bool `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

func (c *Config) setDefaults() {
	if c.RootPath == "" {
		c.RootPath = DefaultRootPath
	}
	c.RootPath = strings.TrimSuffix(c.RootPath, "/")
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = 10
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	c.setDefaults()
	if c.RootPath == "" {
		return xerrors.Wrap(ErrInvalidConfig, "root path must not be empty")
	}
	if c.TTL < time.Second {
		return xerrors.Wrapf(ErrInvalidConfig, "ttl must be at least 1s, got %s", c.TTL)
	}
	if c.WriteRate < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "write rate must not be negative")
	}
	return nil
}

func (c *Config) refreshInterval() time.Duration {
	return c.TTL / 2
}

func (c *Config) retryInterval() time.Duration {
	return c.TTL / 4
}
