package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/topology"
)

// topologyView /topology 的响应体
type topologyView struct {
	FrameworkUUID string             `json:"framework_uuid"`
	Admins        []string           `json:"admins"`
	Publications  []topology.Binding `json:"publications"`
	Subscriptions []topology.Binding `json:"subscriptions"`
	ActiveInAdmin int                `json:"active_in_admin"`
}

// newRouter 返回诊断接口：/healthz、/status、/topology 和指标路径
func (d *daemon) newRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	httpMetrics, err := metrics.NewHTTPServerMetrics(d.meter, "pubsubd")
	if err != nil {
		return nil, err
	}
	r.Use(metrics.GinHTTPMiddleware(httpMetrics))

	r.GET("/healthz", func(c *gin.Context) {
		if d.conn != nil {
			if err := d.conn.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": d.cfg.Directory.Backend})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.store.Status())
	})

	r.GET("/topology", func(c *gin.Context) {
		c.JSON(http.StatusOK, topologyView{
			FrameworkUUID: d.cfg.FrameworkUUID,
			Admins:        d.manager.Admins(),
			Publications:  d.manager.Publications(),
			Subscriptions: d.manager.Subscriptions(),
			ActiveInAdmin: d.admin.activeCount(),
		})
	})

	if d.cfg.Metrics.Enabled {
		r.GET(d.cfg.Metrics.Path, gin.WrapH(d.meter.Handler()))
	}
	return r, nil
}

// serveHTTP 运行诊断服务器直到 ctx 取消
func (d *daemon) serveHTTP(ctx context.Context) error {
	router, err := d.newRouter()
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: d.cfg.HTTP.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("diagnostics server listening", clog.String("addr", d.cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := d.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
