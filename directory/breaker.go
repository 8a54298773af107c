package directory

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/xerrors"
)

// breakerDirectory 为目录调用加上熔断保护
//
// 目录长时间不可达时，熔断打开后刷新和 watch 直接返回 ErrUnavailable，
// 不再等待网络超时；半开状态下放行 MaxRequests 个探测请求。
type breakerDirectory struct {
	next   Directory
	cb     *gobreaker.CircuitBreaker[any]
	logger clog.Logger
}

// WithBreaker 用熔断器包装 Directory，cfg.Enabled 为 false 时原样返回
func WithBreaker(next Directory, cfg BreakerConfig, opts ...Option) Directory {
	if !cfg.Enabled {
		return next
	}
	o := applyOptions(opts...)
	b := &breakerDirectory{next: next, logger: o.logger}

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "directory",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinimumRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !xerrors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("directory breaker state changed",
				clog.String("from", from.String()),
				clog.String("to", to.String()))
		},
	})
	return b
}

func (b *breakerDirectory) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, xerrors.Wrap(ErrUnavailable, err.Error())
	}
	return v, err
}

func (b *breakerDirectory) Get(ctx context.Context, key string) (*Node, error) {
	v, err := b.execute(func() (any, error) { return b.next.Get(ctx, key) })
	if err != nil {
		return nil, err
	}
	return v.(*Node), nil
}

type listing struct {
	nodes []Node
	index int64
}

func (b *breakerDirectory) GetDirectory(ctx context.Context, root string) ([]Node, int64, error) {
	v, err := b.execute(func() (any, error) {
		nodes, index, err := b.next.GetDirectory(ctx, root)
		return listing{nodes, index}, err
	})
	if err != nil {
		return nil, 0, err
	}
	l := v.(listing)
	return l.nodes, l.index, nil
}

func (b *breakerDirectory) Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value, ttl, refreshOnly)
	})
	return err
}

func (b *breakerDirectory) Delete(ctx context.Context, key string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}

func (b *breakerDirectory) Watch(ctx context.Context, root string, since int64) (*Event, error) {
	v, err := b.execute(func() (any, error) { return b.next.Watch(ctx, root, since) })
	if err != nil {
		return nil, err
	}
	ev, _ := v.(*Event)
	return ev, nil
}

func (b *breakerDirectory) Close() error {
	return b.next.Close()
}
