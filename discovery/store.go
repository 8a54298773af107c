// Package discovery 实现基于共享目录的端点发现。
//
// Store 由两部分组成：
//   - Writer：把本地端点写入目录（root/scope/topic/frameworkUUID/endpointUUID），
//     后台每 TTL/2 续约一次；续约失败后下个周期改为完整写入
//   - Watcher：启动时列出目录子树，之后从列出时的版本号开始增量 watch，
//     把远端端点的增删通知给 Listener（通常是 topology.Manager）
//
// 目录不可达时只记录日志并重试，已知的远端端点保持不变（陈旧但可用），
// 不会因为目录故障而通知删除。
//
// ## 基本使用
//
//	store, _ := discovery.New(dir, frameworkUUID, &discovery.Config{
//		RootPath: "pubsub/discovery",
//		TTL:      30 * time.Second,
//	}, discovery.WithLogger(logger), discovery.WithListener(manager))
//	_ = store.Start(ctx)
//	defer store.Close()
//
//	manager.DiscoveryProviderAdded(ctx, store)
package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/xerrors"
)

// Listener 接收远端端点的增删通知
//
// 同一 UUID 可能被重复通知添加（内容变化时），实现方应按更新处理。
type Listener interface {
	DiscoveredEndpointAdded(ctx context.Context, ep *endpoint.Endpoint) error
	DiscoveredEndpointRemoved(ctx context.Context, ep *endpoint.Endpoint) error
}

// Store 端点发现组件
type Store struct {
	cfg           *Config
	dir           directory.Directory
	frameworkUUID string
	logger        clog.Logger
	metrics       *storeMetrics
	limiter       *rate.Limiter
	now           func() time.Time

	announcedMu sync.Mutex
	announced   map[string]*announcedEntry // endpoint uuid -> entry

	discoveredMu sync.Mutex
	discovered   map[string]*discoveredEntry // endpoint uuid -> entry

	listenersMu sync.RWMutex
	listeners   []Listener

	interestMu sync.Mutex
	interest   map[string]int // scope:topic -> 引用计数

	cursor       atomic.Int64
	bootstrapped atomic.Bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started uint32
	closed  uint32
}

type announcedEntry struct {
	ep          *endpoint.Endpoint
	key         string
	isPersisted bool
	createTime  time.Time

	setCount     int
	refreshCount int
	errorCount   int
}

type discoveredEntry struct {
	ep           *endpoint.Endpoint
	discoveredAt time.Time
}

// New 创建 Store
//
// frameworkUUID 是本进程的标识，Watcher 会忽略本进程自己写入的端点。
func New(dir directory.Directory, frameworkUUID string, cfg *Config, opts ...Option) (*Store, error) {
	if dir == nil {
		return nil, xerrors.New("directory is required")
	}
	if frameworkUUID == "" {
		return nil, xerrors.New("framework uuid is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	if o.meter == nil {
		o.meter = metrics.Discard()
	}
	m, err := newStoreMetrics(o.meter)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.WriteRate > 0 {
		limit = rate.Limit(cfg.WriteRate)
	}

	return &Store{
		cfg:           cfg,
		dir:           dir,
		frameworkUUID: frameworkUUID,
		logger:        o.logger.With(clog.String("root", cfg.RootPath)),
		metrics:       m,
		limiter:       rate.NewLimiter(limit, cfg.WriteBurst),
		now:           time.Now,
		announced:     make(map[string]*announcedEntry),
		discovered:    make(map[string]*discoveredEntry),
		listeners:     append([]Listener(nil), o.listeners...),
		interest:      make(map[string]int),
	}, nil
}

// Start 启动续约循环和 watch 循环
//
// 首次列出目录失败不会返回错误，watch 循环会在 TTL/4 后重试。
func (s *Store) Start(ctx context.Context) error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrClosed
	}
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if err := s.bootstrap(loopCtx); err != nil {
		s.logger.Warn("initial directory listing failed, will retry",
			clog.Duration("retry_after", s.cfg.retryInterval()),
			clog.Error(err))
	}

	s.wg.Add(2)
	go s.refreshLoop(loopCtx)
	go s.watchLoop(loopCtx)

	s.logger.Info("discovery started",
		clog.String("framework_uuid", s.frameworkUUID),
		clog.Duration("ttl", s.cfg.TTL))
	return nil
}

// Close 两阶段关闭：先停止后台循环并等待退出，再尽力删除本进程写入的目录项。
//
// 删除失败只记录日志，目录项会在 TTL 到期后自动消失。
// 关闭时会对所有已发现的远端端点通知一次删除。
func (s *Store) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()

	s.announcedMu.Lock()
	entries := make([]*announcedEntry, 0, len(s.announced))
	for _, e := range s.announced {
		entries = append(entries, e)
	}
	s.announced = make(map[string]*announcedEntry)
	s.announcedMu.Unlock()

	for _, e := range entries {
		s.deleteKey(ctx, e.key)
	}
	s.metrics.announced.Set(ctx, 0)

	s.discoveredMu.Lock()
	discovered := make([]*endpoint.Endpoint, 0, len(s.discovered))
	for _, d := range s.discovered {
		discovered = append(discovered, d.ep)
	}
	s.discovered = make(map[string]*discoveredEntry)
	s.discoveredMu.Unlock()

	for _, ep := range discovered {
		s.notifyRemoved(ctx, ep)
	}
	s.metrics.discovered.Set(ctx, 0)

	s.logger.Info("discovery stopped",
		clog.Int("withdrawn", len(entries)),
		clog.Int("forgotten", len(discovered)))
	return nil
}

// AddListener 注册监听者，并立即补发当前已知的远端端点
func (s *Store) AddListener(ctx context.Context, l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()

	for _, ep := range s.discoveredSnapshot() {
		if err := l.DiscoveredEndpointAdded(ctx, ep); err != nil {
			s.logger.Warn("listener rejected discovered endpoint",
				clog.String("uuid", ep.UUID),
				clog.Error(err))
		}
	}
}

// RemoveListener 注销监听者，不会补发删除通知
func (s *Store) RemoveListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// keyFor 返回端点在目录中的路径
func (s *Store) keyFor(ep *endpoint.Endpoint) string {
	scope := ep.Scope
	if scope == "" {
		scope = endpoint.DefaultScope
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", s.cfg.RootPath, scope, ep.Topic, ep.FrameworkUUID, ep.UUID)
}

// sleep 可被 ctx 打断的等待，返回 false 表示 ctx 已取消
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Store) listenerSnapshot() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}

func (s *Store) discoveredSnapshot() []*endpoint.Endpoint {
	s.discoveredMu.Lock()
	defer s.discoveredMu.Unlock()
	out := make([]*endpoint.Endpoint, 0, len(s.discovered))
	for _, d := range s.discovered {
		out = append(out, d.ep)
	}
	return out
}

func (s *Store) isClosed() bool {
	return atomic.LoadUint32(&s.closed) == 1
}
