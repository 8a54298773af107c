package topology

import (
	"github.com/ceyewan/pubsub/metrics"
)

type managerMetrics struct {
	tracked metrics.Gauge
	bound   metrics.Gauge
	admins  metrics.Gauge
	matches metrics.Counter
}

func newManagerMetrics(m metrics.Meter) (*managerMetrics, error) {
	tracked, err := m.Gauge("pubsub_topology_tracked_endpoints", "表中跟踪的端点数")
	if err != nil {
		return nil, err
	}
	bound, err := m.Gauge("pubsub_topology_bound_endpoints", "已绑定到 admin 的端点数")
	if err != nil {
		return nil, err
	}
	admins, err := m.Gauge("pubsub_topology_admins", "已注册的 admin 数")
	if err != nil {
		return nil, err
	}
	matches, err := m.Counter("pubsub_topology_matches_total", "匹配结果计数")
	if err != nil {
		return nil, err
	}
	return &managerMetrics{tracked: tracked, bound: bound, admins: admins, matches: matches}, nil
}
