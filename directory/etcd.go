package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/connector"
	"github.com/ceyewan/pubsub/xerrors"
)

// etcdDirectory 基于 etcd v3 的目录实现
//
// 每个键绑定独立的 lease：Set 时 Grant + Put(WithLease)，refreshOnly 时
// KeepAliveOnce，不修改 ModRevision，因此不会触发 watch 事件。
// Watch 在多次调用之间复用同一个 watch 流，起点与流的下一个版本号不一致时重建。
type etcdDirectory struct {
	client *clientv3.Client
	cfg    *Config
	logger clog.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key -> lease

	streamMu sync.Mutex
	stream   *watchStream

	ctx    context.Context // 所有 watch 流的父 context，Close 时取消
	cancel context.CancelFunc
	closed uint32
}

type watchStream struct {
	root    string
	next    int64 // 下一个期望的版本号
	cancel  context.CancelFunc
	ch      clientv3.WatchChan
	pending []*Event
}

// NewEtcd 创建基于 etcd 的目录客户端
//
// 借用连接器的 client，不负责连接的生命周期。
func NewEtcd(conn connector.EtcdConnector, cfg *Config, opts ...Option) (Directory, error) {
	if conn == nil {
		return nil, xerrors.New("etcd connector is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := conn.GetClient()
	if client == nil {
		return nil, xerrors.New("etcd client cannot be nil")
	}
	o := applyOptions(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	return &etcdDirectory{
		client: client,
		cfg:    cfg,
		logger: o.logger,
		leases: make(map[string]clientv3.LeaseID),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (d *etcdDirectory) isClosed() bool {
	return atomic.LoadUint32(&d.closed) == 1
}

func (d *etcdDirectory) Get(ctx context.Context, key string) (*Node, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	resp, err := d.client.Get(ctx, key)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}
	kv := resp.Kvs[0]
	return &Node{Key: string(kv.Key), Value: string(kv.Value), ModIndex: kv.ModRevision}, nil
}

func (d *etcdDirectory) GetDirectory(ctx context.Context, root string) ([]Node, int64, error) {
	if d.isClosed() {
		return nil, 0, ErrClosed
	}
	resp, err := d.client.Get(ctx, prefixOf(root), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, classify(ctx, err)
	}
	nodes := make([]Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes = append(nodes, Node{Key: string(kv.Key), Value: string(kv.Value), ModIndex: kv.ModRevision})
	}
	return nodes, resp.Header.Revision, nil
}

func (d *etcdDirectory) Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error {
	if d.isClosed() {
		return ErrClosed
	}
	if refreshOnly {
		return d.refresh(ctx, key)
	}

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := d.client.Grant(ctx, seconds)
	if err != nil {
		return classify(ctx, err)
	}
	if _, err := d.client.Put(ctx, key, value, clientv3.WithLease(lease.ID)); err != nil {
		d.revoke(key, lease.ID)
		return classify(ctx, err)
	}

	d.mu.Lock()
	old, hadOld := d.leases[key]
	d.leases[key] = lease.ID
	d.mu.Unlock()

	// 键已经绑定到新 lease，撤销旧 lease 不会删除它
	if hadOld && old != lease.ID {
		d.revoke(key, old)
	}
	return nil
}

func (d *etcdDirectory) refresh(ctx context.Context, key string) error {
	d.mu.Lock()
	lease, ok := d.leases[key]
	d.mu.Unlock()
	if !ok {
		return ErrLeaseNotFound
	}

	if _, err := d.client.KeepAliveOnce(ctx, lease); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			d.mu.Lock()
			if d.leases[key] == lease {
				delete(d.leases, key)
			}
			d.mu.Unlock()
			return xerrors.Wrapf(ErrLeaseNotFound, "key %s", key)
		}
		return classify(ctx, err)
	}
	return nil
}

func (d *etcdDirectory) Delete(ctx context.Context, key string) error {
	if d.isClosed() {
		return ErrClosed
	}
	resp, err := d.client.Delete(ctx, key)
	if err != nil {
		return classify(ctx, err)
	}

	d.mu.Lock()
	lease, ok := d.leases[key]
	delete(d.leases, key)
	d.mu.Unlock()
	if ok {
		d.revoke(key, lease)
	}

	if resp.Deleted == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (d *etcdDirectory) Watch(ctx context.Context, root string, since int64) (*Event, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}

	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	s := d.stream
	if s == nil || s.root != root || (since > 0 && since != s.next) {
		s = d.openStreamLocked(root, since)
	}
	if len(s.pending) > 0 {
		return s.pop(), nil
	}

	timer := time.NewTimer(d.cfg.WatchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case resp, ok := <-s.ch:
			if !ok {
				d.closeStreamLocked()
				if d.isClosed() {
					return nil, ErrClosed
				}
				return nil, unavailable("watch channel closed")
			}
			if resp.CompactRevision != 0 || errors.Is(resp.Err(), rpctypes.ErrCompacted) {
				d.logger.Warn("watch revision compacted",
					clog.String("root", root),
					clog.Int64("since", since),
					clog.Int64("compact_revision", resp.CompactRevision))
				d.closeStreamLocked()
				return nil, ErrIndexCleared
			}
			if err := resp.Err(); err != nil {
				d.closeStreamLocked()
				return nil, classify(ctx, err)
			}
			if resp.Canceled {
				d.closeStreamLocked()
				return nil, unavailable("watch canceled")
			}
			for _, ev := range resp.Events {
				s.pending = append(s.pending, convertEvent(ev))
			}
			if len(s.pending) > 0 {
				return s.pop(), nil
			}
			// progress notify，继续等待
		}
	}
}

func (d *etcdDirectory) openStreamLocked(root string, since int64) *watchStream {
	d.closeStreamLocked()

	wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(d.ctx))
	opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithPrevKV()}
	if since > 0 {
		opts = append(opts, clientv3.WithRev(since))
	}
	d.logger.Debug("open watch stream", clog.String("root", root), clog.Int64("since", since))

	d.stream = &watchStream{
		root:   root,
		next:   since,
		cancel: cancel,
		ch:     d.client.Watch(wctx, prefixOf(root), opts...),
	}
	return d.stream
}

func (d *etcdDirectory) closeStreamLocked() {
	if d.stream != nil {
		d.stream.cancel()
		d.stream = nil
	}
}

func (s *watchStream) pop() *Event {
	ev := s.pending[0]
	s.pending = s.pending[1:]
	s.next = ev.ModIndex + 1
	return ev
}

func (d *etcdDirectory) Close() error {
	if !atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		return nil
	}
	d.cancel()
	d.streamMu.Lock()
	d.closeStreamLocked()
	d.streamMu.Unlock()

	d.mu.Lock()
	d.leases = make(map[string]clientv3.LeaseID)
	d.mu.Unlock()
	return nil
}

// revoke 尽力撤销 lease，失败时由 TTL 兜底
func (d *etcdDirectory) revoke(key string, lease clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WatchTimeout)
	defer cancel()
	if _, err := d.client.Revoke(ctx, lease); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		d.logger.Warn("failed to revoke lease",
			clog.String("key", key),
			clog.Int64("lease", int64(lease)),
			clog.Error(err))
	}
}

func convertEvent(ev *clientv3.Event) *Event {
	out := &Event{
		Key:      string(ev.Kv.Key),
		ModIndex: ev.Kv.ModRevision,
	}
	if ev.PrevKv != nil {
		out.PrevValue = string(ev.PrevKv.Value)
	}
	switch ev.Type {
	case mvccpb.PUT:
		out.Value = string(ev.Kv.Value)
		if ev.IsCreate() {
			out.Action = ActionCreate
		} else {
			out.Action = ActionUpdate
		}
	case mvccpb.DELETE:
		// etcd v3 不区分主动删除和 lease 过期
		out.Action = ActionDelete
	default:
		out.Action = Action(ev.Type.String())
	}
	return out
}

// classify 将 etcd/gRPC 错误归类为目录错误
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, rpctypes.ErrCompacted):
		return ErrIndexCleared
	case errors.Is(err, rpctypes.ErrLeaseNotFound):
		return xerrors.Wrap(ErrLeaseNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return unavailable(err.Error())
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
			return err
		}
	}
	return unavailable(err.Error())
}
