package discovery

import (
	"github.com/ceyewan/pubsub/metrics"
)

type storeMetrics struct {
	directoryOps    metrics.Counter
	watchEvents     metrics.Counter
	droppedEvents   metrics.Counter
	announced       metrics.Gauge
	discovered      metrics.Gauge
	refreshDuration metrics.Histogram
}

func newStoreMetrics(m metrics.Meter) (*storeMetrics, error) {
	directoryOps, err := m.Counter("pubsub_discovery_directory_ops_total", "发现组件发出的目录操作次数")
	if err != nil {
		return nil, err
	}
	watchEvents, err := m.Counter("pubsub_discovery_watch_events_total", "收到的目录事件数")
	if err != nil {
		return nil, err
	}
	droppedEvents, err := m.Counter("pubsub_discovery_dropped_events_total", "无法解析而被丢弃的目录事件数")
	if err != nil {
		return nil, err
	}
	announced, err := m.Gauge("pubsub_discovery_announced_endpoints", "本进程已发布的端点数")
	if err != nil {
		return nil, err
	}
	discovered, err := m.Gauge("pubsub_discovery_discovered_endpoints", "已发现的远端端点数")
	if err != nil {
		return nil, err
	}
	refreshDuration, err := m.Histogram("pubsub_discovery_refresh_duration_seconds", "一轮续约的耗时",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{.001, .005, .01, .05, .1, .5, 1, 5}))
	if err != nil {
		return nil, err
	}
	return &storeMetrics{
		directoryOps:    directoryOps,
		watchEvents:     watchEvents,
		droppedEvents:   droppedEvents,
		announced:       announced,
		discovered:      discovered,
		refreshDuration: refreshDuration,
	}, nil
}
