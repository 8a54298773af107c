package directory

import (
	"time"

	"github.com/ceyewan/pubsub/clog"
)

// Option 配置目录客户端的选项
type Option func(*options)

type options struct {
	logger clog.Logger
	now    func() time.Time
}

// WithLogger 设置 Logger
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("directory")
		}
	}
}

// WithClock 替换内存实现使用的时钟，用于测试 TTL 过期
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	return o
}
