package connector

import (
	"context"
	"sync"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/xerrors"
)

const healthCheckKey = "pubsub-health-check"

type etcdConnector struct {
	cfg     *EtcdConfig
	client  *clientv3.Client
	logger  clog.Logger
	healthy atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	attempts metrics.Counter
	active   metrics.Gauge
}

// NewEtcd 创建 Etcd 连接器
//
// 创建 client 不会阻塞等待连接，调用 Connect 才会真正验证连通性。
func NewEtcd(cfg *EtcdConfig, opts ...Option) (EtcdConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "etcd config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(err, "etcd connector[%s]", cfg.Name)
	}

	opt := &options{}
	for _, o := range opts {
		o(opt)
	}
	if opt.logger == nil {
		opt.logger = clog.Discard()
	}
	if opt.meter == nil {
		opt.meter = metrics.Discard()
	}

	c := &etcdConnector{
		cfg:    cfg,
		logger: opt.logger.With(clog.String("connector", "etcd"), clog.String("name", cfg.Name)),
	}

	var err error
	if c.attempts, err = opt.meter.Counter("pubsub_connector_etcd_connect_total", "Etcd connect attempts"); err != nil {
		return nil, xerrors.Wrap(err, "create connect counter")
	}
	if c.active, err = opt.meter.Gauge("pubsub_connector_etcd_active", "Whether the etcd connection is healthy"); err != nil {
		return nil, xerrors.Wrap(err, "create active gauge")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:            cfg.Endpoints,
		Username:             cfg.Username,
		Password:             cfg.Password,
		DialTimeout:          cfg.DialTimeout,
		DialKeepAliveTime:    cfg.KeepAliveTime,
		DialKeepAliveTimeout: cfg.KeepAliveTimeout,
		DialOptions:          []grpc.DialOption{grpc.WithUserAgent("pubsub/" + cfg.Name)},
	})
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.Join(ErrConnection, err), "etcd connector[%s]", cfg.Name)
	}
	c.client = client
	return c, nil
}

func (c *etcdConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}

	c.logger.Info("connecting to etcd", clog.Any("endpoints", c.cfg.Endpoints))
	err := c.ping(ctx)
	c.attempts.Inc(ctx, metrics.L("connector", c.cfg.Name), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil {
		c.logger.Error("failed to connect to etcd", clog.Error(err))
		return xerrors.Wrapf(xerrors.Join(ErrConnection, err), "etcd connector[%s]", c.cfg.Name)
	}

	c.logger.Info("connected to etcd", clog.Any("endpoints", c.cfg.Endpoints))
	return nil
}

func (c *etcdConnector) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	_, err := c.client.Get(pingCtx, healthCheckKey)
	c.healthy.Store(err == nil)
	if err == nil {
		c.active.Set(ctx, 1, metrics.L("connector", c.cfg.Name))
	} else {
		c.active.Set(ctx, 0, metrics.L("connector", c.cfg.Name))
	}
	return err
}

func (c *etcdConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.healthy.Store(false)
	c.active.Set(context.Background(), 0, metrics.L("connector", c.cfg.Name))
	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close etcd connection", clog.Error(err))
		return err
	}
	c.logger.Info("etcd connection closed")
	return nil
}

func (c *etcdConnector) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.ping(ctx); err != nil {
		c.logger.Warn("etcd health check failed", clog.Error(err))
		return xerrors.Wrap(ErrHealthCheck, err.Error())
	}
	return nil
}

func (c *etcdConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *etcdConnector) Name() string {
	return c.cfg.Name
}

func (c *etcdConnector) GetClient() *clientv3.Client {
	return c.client
}
