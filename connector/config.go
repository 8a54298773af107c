package connector

import (
	"time"

	"github.com/ceyewan/pubsub/xerrors"
)

// EtcdConfig Etcd 连接配置
type EtcdConfig struct {
	Name           string        `mapstructure:"name" yaml:"name"`                       // 连接器名称 (默认: "default")
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"` // Connect 健康检查超时 (默认: 5s)

	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"` // [必填] 连接地址列表
	Username  string   `mapstructure:"username" yaml:"username"`
	Password  string   `mapstructure:"password" yaml:"password"`

	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`             // 拨号超时 (默认: 5s)
	KeepAliveTime    time.Duration `mapstructure:"keep_alive_time" yaml:"keep_alive_time"`       // gRPC 心跳间隔 (默认: 10s)
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"` // gRPC 心跳超时 (默认: 3s)
}

func (c *EtcdConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.KeepAliveTime == 0 {
		c.KeepAliveTime = 10 * time.Second
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 3 * time.Second
	}
}

func (c *EtcdConfig) validate() error {
	c.setDefaults()
	if len(c.Endpoints) == 0 {
		return xerrors.Wrap(ErrConfig, "etcd endpoints must not be empty")
	}
	if c.Username == "" && c.Password != "" {
		return xerrors.Wrap(ErrConfig, "etcd password set without username")
	}
	return nil
}
