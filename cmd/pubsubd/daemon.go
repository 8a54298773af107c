package main

import (
	"context"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/connector"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/discovery"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/topology"
	"github.com/ceyewan/pubsub/xerrors"
)

// daemon 持有 pubsubd 的所有组件
//
// 组件按依赖顺序创建，Close 按相反顺序释放。
type daemon struct {
	cfg     *AppConfig
	logger  clog.Logger
	meter   metrics.Meter
	conn    connector.EtcdConnector // memory 后端时为 nil
	dir     directory.Directory
	store   *discovery.Store
	manager *topology.Manager
	admin   *logAdmin
}

func newDaemon(ctx context.Context, cfg *AppConfig) (*daemon, error) {
	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.WithNamespace("pubsubd")

	d := &daemon{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	if d.meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(logger)); err != nil {
		return nil, xerrors.Wrap(err, "create meter")
	}

	if cfg.Directory.Backend != directory.BackendMemory {
		if d.conn, err = connector.NewEtcd(&cfg.Etcd, connector.WithLogger(logger), connector.WithMeter(d.meter)); err != nil {
			return nil, err
		}
		if err := d.conn.Connect(ctx); err != nil {
			return nil, err
		}
	}

	if d.dir, err = directory.New(&cfg.Directory, d.conn, directory.WithLogger(logger)); err != nil {
		return nil, err
	}

	if d.manager, err = topology.NewManager(cfg.FrameworkUUID,
		topology.WithLogger(logger),
		topology.WithMeter(d.meter)); err != nil {
		return nil, err
	}

	if d.store, err = discovery.New(d.dir, cfg.FrameworkUUID, &cfg.Discovery,
		discovery.WithLogger(logger),
		discovery.WithMeter(d.meter),
		discovery.WithListener(d.manager)); err != nil {
		return nil, err
	}

	d.admin = newLogAdmin(cfg.AdminType, logger)
	ok = true
	return d, nil
}

// start 启动发现组件并把各组件连接起来
func (d *daemon) start(ctx context.Context) error {
	if err := d.store.Start(ctx); err != nil {
		return err
	}
	d.manager.AdminAdded(ctx, d.admin)
	d.manager.DiscoveryProviderAdded(ctx, d.store)
	return nil
}

// Close 释放所有组件，只能调用一次
func (d *daemon) Close() error {
	errs := &xerrors.Collector{}
	if d.manager != nil && d.store != nil {
		d.manager.DiscoveryProviderRemoved(d.store)
	}
	if d.store != nil {
		errs.Collect(d.store.Close())
	}
	if d.manager != nil && d.admin != nil {
		d.manager.AdminRemoved(context.Background(), d.admin)
	}
	if d.dir != nil {
		errs.Collect(d.dir.Close())
	}
	if d.conn != nil {
		errs.Collect(d.conn.Close())
	}
	if d.meter != nil {
		errs.Collect(d.meter.Shutdown(context.Background()))
	}
	if d.logger != nil {
		d.logger.Flush()
	}
	return errs.Err()
}
