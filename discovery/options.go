package discovery

import (
	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/metrics"
)

// Option 配置 Store 的选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	listeners []Listener
}

// WithLogger 设置日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("discovery")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithListener 在创建时注册监听者，等价于创建后调用 AddListener
func WithListener(l Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}
