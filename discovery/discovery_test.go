package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/testkit"
)

type recordingListener struct {
	mu      sync.Mutex
	added   []*endpoint.Endpoint
	removed []*endpoint.Endpoint
}

func (l *recordingListener) DiscoveredEndpointAdded(ctx context.Context, ep *endpoint.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, ep)
	return nil
}

func (l *recordingListener) DiscoveredEndpointRemoved(ctx context.Context, ep *endpoint.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, ep)
	return nil
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.added), len(l.removed)
}

func (l *recordingListener) lastRemoved() *endpoint.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.removed) == 0 {
		return nil
	}
	return l.removed[len(l.removed)-1]
}

// scriptedDirectory 记录调用并按需注入失败
type scriptedDirectory struct {
	mu          sync.Mutex
	sets        int
	refreshes   int
	deletes     int
	failRefresh bool
	failSet     bool
	lastOp      string
	watchErr    error
}

func (d *scriptedDirectory) Get(ctx context.Context, key string) (*directory.Node, error) {
	return nil, directory.ErrKeyNotFound
}

func (d *scriptedDirectory) GetDirectory(ctx context.Context, root string) ([]directory.Node, int64, error) {
	return nil, 7, nil
}

func (d *scriptedDirectory) Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if refreshOnly {
		d.refreshes++
		d.lastOp = "refresh"
		if d.failRefresh {
			return directory.ErrLeaseNotFound
		}
		return nil
	}
	d.sets++
	d.lastOp = "set"
	if d.failSet {
		return errors.New("directory unavailable")
	}
	return nil
}

func (d *scriptedDirectory) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes++
	return nil
}

func (d *scriptedDirectory) Watch(ctx context.Context, root string, since int64) (*directory.Event, error) {
	d.mu.Lock()
	err := d.watchErr
	d.mu.Unlock()
	return nil, err
}

func (d *scriptedDirectory) Close() error { return nil }

// gatedDirectory 在 armed 时让下一次完整写入阻塞，直到 release 被关闭
type gatedDirectory struct {
	directory.Directory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedDirectory(dir directory.Directory) *gatedDirectory {
	return &gatedDirectory{
		Directory: dir,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (d *gatedDirectory) Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error {
	if !refreshOnly && d.armed.CompareAndSwap(true, false) {
		close(d.entered)
		<-d.release
	}
	return d.Directory.Set(ctx, key, value, ttl, refreshOnly)
}

func markUnpersisted(s *Store) {
	s.announcedMu.Lock()
	for _, e := range s.announced {
		e.isPersisted = false
	}
	s.announcedMu.Unlock()
}

func newMemoryDirectory(t *testing.T) directory.Directory {
	t.Helper()
	dir, err := directory.NewMemory(&directory.Config{WatchTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func newTestStore(t *testing.T, dir directory.Directory, fw string, opts ...Option) *Store {
	t.Helper()
	s, err := New(dir, fw, &Config{TTL: time.Second}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEndpoint(fw, topic string, typ endpoint.Type) *endpoint.Endpoint {
	return endpoint.New(fw, "", topic, typ, "tcp", "json", nil)
}

func TestNew_Validation(t *testing.T) {
	dir := newMemoryDirectory(t)

	_, err := New(nil, "fw", nil)
	assert.Error(t, err)

	_, err = New(dir, "", nil)
	assert.Error(t, err)

	_, err = New(dir, "fw", &Config{TTL: 10 * time.Millisecond})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(dir, "fw", &Config{WriteRate: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := New(dir, "fw", &Config{RootPath: "custom/root/"})
	require.NoError(t, err)
	assert.Equal(t, "custom/root", s.cfg.RootPath)
	assert.Equal(t, 30*time.Second, s.cfg.TTL)
	assert.Equal(t, 15*time.Second, s.cfg.refreshInterval())
}

func TestAnnounce_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	require.NoError(t, s.Announce(ctx, ep, true))

	st := s.Status()
	require.Len(t, st.Announced, 1)
	assert.Equal(t, ep.UUID, st.Announced[0].UUID)
	assert.Equal(t, 2, st.Announced[0].SetCount)

	nodes, _, err := dir.GetDirectory(ctx, DefaultRootPath)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "pubsub/discovery/default/orders/fw-a/"+ep.UUID, nodes[0].Key)
}

func TestAnnounce_StoresClone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemoryDirectory(t), "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	ep.Topic = "mutated"

	s.announcedMu.Lock()
	defer s.announcedMu.Unlock()
	assert.Equal(t, "orders", s.announced[ep.UUID].ep.Topic)
}

func TestAnnounce_InvalidEndpoint(t *testing.T) {
	s := newTestStore(t, newMemoryDirectory(t), "fw-a")

	ep := newEndpoint("fw-a", "", endpoint.Publisher)
	err := s.Announce(context.Background(), ep, true)
	assert.ErrorIs(t, err, endpoint.ErrInvalidEndpoint)
	assert.Empty(t, s.Status().Announced)
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	s.Withdraw(ctx, ep)

	assert.Empty(t, s.Status().Announced)
	nodes, _, err := dir.GetDirectory(ctx, DefaultRootPath)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	// 重复撤回不报错
	s.Withdraw(ctx, ep)
}

func TestBootstrap_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	writer := newTestStore(t, dir, "fw-a")
	listener := &recordingListener{}
	watcher := newTestStore(t, dir, "fw-b", WithListener(listener))

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	ep.Properties["region"] = "eu"
	require.NoError(t, writer.Announce(ctx, ep, true))

	require.NoError(t, watcher.bootstrap(ctx))

	require.Len(t, listener.added, 1)
	got := listener.added[0]
	assert.True(t, got.Equals(ep))
	assert.True(t, got.SameContent(ep))
	assert.True(t, watcher.Status().Bootstrapped)
	assert.Positive(t, watcher.Status().Cursor)

	// 内容不变时重新列出不重复通知
	require.NoError(t, watcher.bootstrap(ctx))
	added, _ := listener.counts()
	assert.Equal(t, 1, added)
}

func TestBootstrap_IgnoresOwnFramework(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	listener := &recordingListener{}
	s := newTestStore(t, dir, "fw-a", WithListener(listener))

	require.NoError(t, s.Announce(ctx, newEndpoint("fw-a", "orders", endpoint.Publisher), true))
	require.NoError(t, s.bootstrap(ctx))

	added, _ := listener.counts()
	assert.Zero(t, added)
	assert.Empty(t, s.Status().Discovered)
}

func TestBootstrap_DropsMalformedAndRemovesStale(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	listener := &recordingListener{}
	s := newTestStore(t, dir, "fw-b", WithListener(listener))

	stale := newEndpoint("fw-a", "orders", endpoint.Publisher)
	s.discovered[stale.UUID] = &discoveredEntry{ep: stale}

	require.NoError(t, dir.Set(ctx, DefaultRootPath+"/default/orders/fw-a/broken", "not json", time.Minute, false))
	require.NoError(t, dir.Set(ctx, DefaultRootPath+"/default/orders/fw-a/partial", `{"pubsub.topic.name":"orders"}`, time.Minute, false))

	require.NoError(t, s.bootstrap(ctx))

	added, removed := listener.counts()
	assert.Zero(t, added)
	assert.Equal(t, 1, removed)
	assert.Equal(t, stale.UUID, listener.lastRemoved().UUID)
}

func TestHandleEvent_DeleteUsesPrevValue(t *testing.T) {
	ctx := context.Background()
	listener := &recordingListener{}
	s := newTestStore(t, &scriptedDirectory{}, "fw-b", WithListener(listener))

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	prev, err := ep.ToJSON()
	require.NoError(t, err)

	s.handleEvent(ctx, &directory.Event{
		Action:    directory.ActionDelete,
		Key:       s.keyFor(ep),
		Value:     "",
		PrevValue: string(prev),
		ModIndex:  12,
	})

	removed := listener.lastRemoved()
	require.NotNil(t, removed)
	assert.Equal(t, ep.UUID, removed.UUID)
}

func TestHandleEvent_ExpireFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	listener := &recordingListener{}
	s := newTestStore(t, &scriptedDirectory{}, "fw-b", WithListener(listener))

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	value, err := ep.ToJSON()
	require.NoError(t, err)

	s.handleEvent(ctx, &directory.Event{Action: directory.ActionCreate, Key: s.keyFor(ep), Value: string(value), ModIndex: 3})
	s.handleEvent(ctx, &directory.Event{Action: directory.ActionExpire, Key: s.keyFor(ep), ModIndex: 4})

	added, removed := listener.counts()
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	assert.Empty(t, s.Status().Discovered)

	// 未知端点的删除被丢弃
	s.handleEvent(ctx, &directory.Event{Action: directory.ActionDelete, Key: DefaultRootPath + "/default/orders/fw-a/unknown", ModIndex: 5})
	_, removed = listener.counts()
	assert.Equal(t, 1, removed)
}

func TestHandleEvent_UpdateForwardsChangedContent(t *testing.T) {
	ctx := context.Background()
	listener := &recordingListener{}
	s := newTestStore(t, &scriptedDirectory{}, "fw-b", WithListener(listener))

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	v1, _ := ep.ToJSON()
	s.handleEvent(ctx, &directory.Event{Action: directory.ActionCreate, Key: s.keyFor(ep), Value: string(v1), ModIndex: 1})
	s.handleEvent(ctx, &directory.Event{Action: directory.ActionSet, Key: s.keyFor(ep), Value: string(v1), ModIndex: 2})

	ep.URL = "tcp://10.0.0.1:9000"
	v2, _ := ep.ToJSON()
	s.handleEvent(ctx, &directory.Event{Action: directory.ActionUpdate, Key: s.keyFor(ep), Value: string(v2), ModIndex: 3})

	added, _ := listener.counts()
	assert.Equal(t, 2, added)
	require.Len(t, s.Status().Discovered, 1)
}

func TestRefresh_FallsBackToFullSet(t *testing.T) {
	ctx := context.Background()
	dir := &scriptedDirectory{}
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	require.True(t, s.IsPersisted(ep.UUID))

	for i := 0; i < 10; i++ {
		s.refreshOnce(ctx)
	}
	assert.Equal(t, 10, dir.refreshes)
	assert.Equal(t, 1, dir.sets)
	assert.True(t, s.IsPersisted(ep.UUID))

	dir.failRefresh = true
	s.refreshOnce(ctx)
	assert.Equal(t, 11, dir.refreshes)
	assert.False(t, s.IsPersisted(ep.UUID))

	// 下一轮改为完整写入，写入失败前保持未持久化
	dir.failRefresh = false
	dir.failSet = true
	s.refreshOnce(ctx)
	assert.Equal(t, "set", dir.lastOp)
	assert.Equal(t, 11, dir.refreshes)
	assert.False(t, s.IsPersisted(ep.UUID))

	dir.failSet = false
	s.refreshOnce(ctx)
	assert.Equal(t, "set", dir.lastOp)
	assert.True(t, s.IsPersisted(ep.UUID))

	s.refreshOnce(ctx)
	assert.Equal(t, "refresh", dir.lastOp)

	st := s.Status()
	require.Len(t, st.Announced, 1)
	assert.Equal(t, 11, st.Announced[0].RefreshCount)
	assert.Equal(t, 2, st.Announced[0].ErrorCount)
}

func TestAnnounce_FailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	dir := &scriptedDirectory{failSet: true}
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	assert.Error(t, s.Announce(ctx, ep, true))
	assert.False(t, s.IsPersisted(ep.UUID))

	dir.failSet = false
	s.refreshOnce(ctx)
	assert.True(t, s.IsPersisted(ep.UUID))
}

func TestRefresh_WithdrawDuringSetDeletesKey(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryDirectory(t)
	dir := newGatedDirectory(mem)
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	key := s.keyFor(ep)
	markUnpersisted(s)

	dir.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.refreshOnce(ctx)
	}()

	<-dir.entered
	s.Withdraw(ctx, ep)
	_, err := mem.Get(ctx, key)
	require.ErrorIs(t, err, directory.ErrKeyNotFound)

	close(dir.release)
	<-done

	_, err = mem.Get(ctx, key)
	assert.ErrorIs(t, err, directory.ErrKeyNotFound)
	assert.Empty(t, s.Status().Announced)
}

func TestRefresh_ReannounceDuringSetForcesFullWrite(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryDirectory(t)
	dir := newGatedDirectory(mem)
	s := newTestStore(t, dir, "fw-a")

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.Announce(ctx, ep, true))
	markUnpersisted(s)

	dir.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.refreshOnce(ctx)
	}()

	<-dir.entered
	updated := ep.Clone()
	updated.URL = "tcp://10.0.0.2:4000"
	require.NoError(t, s.Announce(ctx, updated, true))
	close(dir.release)
	<-done

	// 旧内容可能覆盖了新内容，新条目下一轮需要完整写入
	assert.False(t, s.IsPersisted(ep.UUID))
	s.refreshOnce(ctx)
	node, err := mem.Get(ctx, s.keyFor(updated))
	require.NoError(t, err)
	decoded, err := endpoint.FromJSON([]byte(node.Value))
	require.NoError(t, err)
	assert.Equal(t, updated.URL, decoded.URL)
}

func TestRefresh_ConcurrentWithdrawLeavesNoKeys(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	s := newTestStore(t, dir, "fw-a")

	stop := make(chan struct{})
	refresherDone := make(chan struct{})
	go func() {
		defer close(refresherDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			markUnpersisted(s)
			s.refreshOnce(ctx)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
			assert.NoError(t, s.Announce(ctx, ep, true))
			time.Sleep(time.Millisecond)
			s.Withdraw(ctx, ep)
		}()
	}
	wg.Wait()
	close(stop)
	<-refresherDone

	nodes, _, err := dir.GetDirectory(ctx, DefaultRootPath)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, s.Status().Announced)
}

func TestAnnounceEndpoint_VisibilityFilter(t *testing.T) {
	ctx := context.Background()
	dir := newMemoryDirectory(t)
	s := newTestStore(t, dir, "fw-a")

	local := newEndpoint("fw-a", "orders", endpoint.Publisher)
	local.Properties[endpoint.KeyVisibility] = string(endpoint.VisibilityLocal)
	require.NoError(t, s.AnnounceEndpoint(ctx, local))

	system := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, s.AnnounceEndpoint(ctx, system))

	nodes, _, err := dir.GetDirectory(ctx, DefaultRootPath)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Contains(t, nodes[0].Key, system.UUID)

	require.NoError(t, s.RemoveEndpoint(ctx, system))
	nodes, _, err = dir.GetDirectory(ctx, DefaultRootPath)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestTopicInterest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &scriptedDirectory{}, "fw-a")

	require.NoError(t, s.InterestedInTopic(ctx, "default", "orders"))
	require.NoError(t, s.InterestedInTopic(ctx, "default", "orders"))
	require.NoError(t, s.InterestedInTopic(ctx, "default", "billing"))
	assert.Len(t, s.Status().Interests, 2)

	require.NoError(t, s.UninterestedInTopic(ctx, "default", "orders"))
	assert.Len(t, s.Status().Interests, 2)
	require.NoError(t, s.UninterestedInTopic(ctx, "default", "orders"))
	assert.Equal(t, []string{endpoint.ScopeTopicKey("default", "billing")}, s.Status().Interests)
}

func TestWatchOnce_IndexClearedTriggersRelist(t *testing.T) {
	dir := &scriptedDirectory{watchErr: directory.ErrIndexCleared}
	s := newTestStore(t, dir, "fw-a")
	require.NoError(t, s.bootstrap(context.Background()))
	assert.Equal(t, int64(7), s.cursor.Load())

	assert.True(t, s.watchOnce(context.Background()))
	assert.False(t, s.bootstrapped.Load())
}

func TestWatchOnce_StopsWhenCancelled(t *testing.T) {
	s := newTestStore(t, &scriptedDirectory{watchErr: errors.New("boom")}, "fw-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.watchOnce(ctx))
}

func TestStore_EndToEnd(t *testing.T) {
	kit := testkit.NewKit(t)
	ctx := kit.Ctx
	dir := newMemoryDirectory(t)

	a := newTestStore(t, dir, "fw-a", WithLogger(kit.Logger), WithMeter(kit.Meter))
	require.NoError(t, a.Start(ctx))
	assert.ErrorIs(t, a.Start(ctx), ErrAlreadyStarted)

	listener := &recordingListener{}
	b := newTestStore(t, dir, "fw-b", WithLogger(kit.Logger), WithMeter(kit.Meter))
	require.NoError(t, b.Start(ctx))
	b.AddListener(ctx, listener)

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	require.NoError(t, a.AnnounceEndpoint(ctx, ep))

	require.Eventually(t, func() bool {
		added, _ := listener.counts()
		return added == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Announce(ctx, ep, true), ErrClosed)

	require.Eventually(t, func() bool {
		_, removed := listener.counts()
		return removed == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, ep.UUID, listener.lastRemoved().UUID)
}

func TestClose_NotifiesRemovalOfDiscovered(t *testing.T) {
	ctx := context.Background()
	listener := &recordingListener{}
	s, err := New(&scriptedDirectory{}, "fw-b", &Config{TTL: time.Second}, WithListener(listener))
	require.NoError(t, err)

	ep := newEndpoint("fw-a", "orders", endpoint.Publisher)
	s.handleAdd(ctx, ep)
	require.NoError(t, s.Close())

	_, removed := listener.counts()
	assert.Equal(t, 1, removed)
	assert.Empty(t, s.Status().Discovered)
}

func TestAddListener_ReplaysDiscovered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &scriptedDirectory{}, "fw-b")
	s.handleAdd(ctx, newEndpoint("fw-a", "orders", endpoint.Publisher))

	listener := &recordingListener{}
	s.AddListener(ctx, listener)
	added, _ := listener.counts()
	assert.Equal(t, 1, added)

	s.RemoveListener(listener)
	s.handleAdd(ctx, newEndpoint("fw-a", "billing", endpoint.Publisher))
	added, _ = listener.counts()
	assert.Equal(t, 1, added)
}
