package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/pubsub/clog"
)

// memoryDirectory 进程内目录实现
//
// 每次写入、删除、过期都会使全局版本号加一并追加一条事件；
// 只保留最近 HistorySize 条事件，更早的起点会得到 ErrIndexCleared。
type memoryDirectory struct {
	cfg    *Config
	logger clog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*memEntry
	index     int64
	history   []Event
	compacted int64         // 已被丢弃的最大事件版本号
	changed   chan struct{} // 每次变更时关闭并替换

	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   uint32
}

type memEntry struct {
	value     string
	modIndex  int64
	ttl       time.Duration
	expiresAt time.Time // 零值表示永不过期
}

// NewMemory 创建进程内目录
func NewMemory(cfg *Config, opts ...Option) (Directory, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts...)

	d := &memoryDirectory{
		cfg:      cfg,
		logger:   o.logger,
		now:      o.now,
		entries:  make(map[string]*memEntry),
		changed:  make(chan struct{}),
		stopChan: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.sweepLoop()
	return d, nil
}

func (d *memoryDirectory) isClosed() bool {
	return atomic.LoadUint32(&d.closed) == 1
}

func (d *memoryDirectory) Get(ctx context.Context, key string) (*Node, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	e, ok := d.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &Node{Key: key, Value: e.value, ModIndex: e.modIndex}, nil
}

func (d *memoryDirectory) GetDirectory(ctx context.Context, root string) ([]Node, int64, error) {
	if d.isClosed() {
		return nil, 0, ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	prefix := prefixOf(root)
	nodes := make([]Node, 0)
	for k, e := range d.entries {
		if strings.HasPrefix(k, prefix) {
			nodes = append(nodes, Node{Key: k, Value: e.value, ModIndex: e.modIndex})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes, d.index, nil
}

func (d *memoryDirectory) Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error {
	if d.isClosed() {
		return ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	e, exists := d.entries[key]
	if refreshOnly {
		if !exists {
			return ErrLeaseNotFound
		}
		e.ttl = ttl
		e.expiresAt = d.deadline(ttl)
		return nil
	}

	ev := Event{Action: ActionCreate, Key: key, Value: value}
	if exists {
		ev.Action = ActionSet
		ev.PrevValue = e.value
	}
	d.index++
	ev.ModIndex = d.index
	d.entries[key] = &memEntry{
		value:     value,
		modIndex:  d.index,
		ttl:       ttl,
		expiresAt: d.deadline(ttl),
	}
	d.appendLocked(ev)
	return nil
}

func (d *memoryDirectory) Delete(ctx context.Context, key string) error {
	if d.isClosed() {
		return ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	e, ok := d.entries[key]
	if !ok {
		return ErrKeyNotFound
	}
	d.removeLocked(key, e, ActionDelete)
	return nil
}

func (d *memoryDirectory) Watch(ctx context.Context, root string, since int64) (*Event, error) {
	timer := time.NewTimer(d.cfg.WatchTimeout)
	defer timer.Stop()
	prefix := prefixOf(root)

	for {
		if d.isClosed() {
			return nil, ErrClosed
		}
		d.mu.Lock()
		d.expireLocked()
		if since <= 0 {
			since = d.index + 1
		}
		if since <= d.compacted {
			d.mu.Unlock()
			return nil, ErrIndexCleared
		}
		for i := range d.history {
			ev := d.history[i]
			if ev.ModIndex >= since && strings.HasPrefix(ev.Key, prefix) {
				d.mu.Unlock()
				return &ev, nil
			}
		}
		changed := d.changed
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.stopChan:
			return nil, ErrClosed
		case <-timer.C:
			return nil, nil
		case <-changed:
		}
	}
}

func (d *memoryDirectory) Close() error {
	if !atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		return nil
	}
	close(d.stopChan)
	d.wg.Wait()
	return nil
}

// sweepLoop 周期检查过期键，使 watch 方能及时收到 expire 事件
func (d *memoryDirectory) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.mu.Lock()
			d.expireLocked()
			d.mu.Unlock()
		}
	}
}

func (d *memoryDirectory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return d.now().Add(ttl)
}

func (d *memoryDirectory) expireLocked() {
	now := d.now()
	var expired []string
	for k, e := range d.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	sort.Strings(expired)
	for _, k := range expired {
		d.logger.Debug("key expired", clog.String("key", k))
		d.removeLocked(k, d.entries[k], ActionExpire)
	}
}

func (d *memoryDirectory) removeLocked(key string, e *memEntry, action Action) {
	delete(d.entries, key)
	d.index++
	d.appendLocked(Event{Action: action, Key: key, PrevValue: e.value, ModIndex: d.index})
}

func (d *memoryDirectory) appendLocked(ev Event) {
	d.history = append(d.history, ev)
	if over := len(d.history) - d.cfg.HistorySize; over > 0 {
		d.compacted = d.history[over-1].ModIndex
		d.history = append([]Event(nil), d.history[over:]...)
	}
	close(d.changed)
	d.changed = make(chan struct{})
}
