package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/config"
	"github.com/ceyewan/pubsub/endpoint"
)

type serveOptions struct {
	scope      string
	publish    []string
	subscribe  []string
	url        string
	serializer string
}

func newCmdServe(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "Run discovery and topology matching until interrupted",
		Example: `  # Announce a publisher on "orders" and subscribe to "billing"
  pubsubd serve --publish orders --subscribe billing

  # Single-process run without etcd
  pubsubd serve --directory memory`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scope, "scope", endpoint.DefaultScope, "Scope of the local endpoints")
	cmd.Flags().StringSliceVar(&opts.publish, "publish", nil, "Topics to announce a local publisher for")
	cmd.Flags().StringSliceVar(&opts.subscribe, "subscribe", nil, "Topics to add a local subscriber for")
	cmd.Flags().StringVar(&opts.url, "url", "", "Transport URL attached to local publishers")
	cmd.Flags().StringVar(&opts.serializer, "serializer", "json", "Serializer type of the local endpoints")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, loader, err := loadConfig(ctx, root)
	if err != nil {
		return err
	}
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.start(ctx); err != nil {
		return err
	}
	d.logger.Info("pubsubd started",
		clog.String("framework_uuid", cfg.FrameworkUUID),
		clog.String("backend", cfg.Directory.Backend),
		clog.String("version", version))

	locals := d.localEndpoints(opts)
	for _, ep := range locals {
		var err error
		if ep.Type == endpoint.Publisher {
			err = d.manager.LocalPublicationObserved(ctx, ep)
		} else {
			err = d.manager.LocalSubscriptionAdded(ctx, ep)
		}
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.serveHTTP(gctx)
	})
	g.Go(func() error {
		return d.followLogLevel(gctx, loader)
	})
	err = g.Wait()

	// 按添加的相反顺序撤销本地端点
	for i := len(locals) - 1; i >= 0; i-- {
		ep := locals[i]
		var rmErr error
		if ep.Type == endpoint.Publisher {
			rmErr = d.manager.LocalPublicationWithdrawn(context.Background(), ep)
		} else {
			rmErr = d.manager.LocalSubscriptionRemoved(context.Background(), ep)
		}
		if rmErr != nil {
			d.logger.Warn("remove local endpoint failed", clog.String("uuid", ep.UUID), clog.Error(rmErr))
		}
	}
	d.logger.Info("pubsubd stopped")
	return err
}

func (d *daemon) localEndpoints(opts *serveOptions) []*endpoint.Endpoint {
	var eps []*endpoint.Endpoint
	for _, topic := range opts.publish {
		ep := endpoint.New(d.cfg.FrameworkUUID, opts.scope, topic, endpoint.Publisher, d.cfg.AdminType, opts.serializer, nil)
		ep.URL = opts.url
		eps = append(eps, ep)
	}
	for _, topic := range opts.subscribe {
		eps = append(eps, endpoint.New(d.cfg.FrameworkUUID, opts.scope, topic, endpoint.Subscriber, d.cfg.AdminType, opts.serializer, nil))
	}
	return eps
}

// followLogLevel 配置文件中 log.level 变化时调整日志级别
func (d *daemon) followLogLevel(ctx context.Context, loader config.Loader) error {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		return err
	}
	for ev := range ch {
		s, _ := ev.Value.(string)
		level, err := clog.ParseLevel(s)
		if err != nil {
			d.logger.Warn("ignore invalid log level", clog.Any("value", ev.Value))
			continue
		}
		if err := d.logger.SetLevel(level); err != nil {
			d.logger.Warn("set log level failed", clog.Error(err))
			continue
		}
		d.logger.Info("log level changed", clog.String("level", level.String()))
	}
	return nil
}
