package main

import (
	"context"
	"sync"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/topology"
)

// 日志 admin 的得分，与常见传输后端的取值一致
const (
	sampleScore  = 70
	controlScore = 30
	defaultScore = 50
)

// logAdmin 只记录绑定关系的传输后端，用于在没有真实传输层时观察匹配结果
type logAdmin struct {
	adminType string
	logger    clog.Logger

	mu     sync.Mutex
	active map[string]*endpoint.Endpoint // uuid -> endpoint
}

func newLogAdmin(adminType string, logger clog.Logger) *logAdmin {
	return &logAdmin{
		adminType: adminType,
		logger:    logger.WithNamespace("admin"),
		active:    make(map[string]*endpoint.Endpoint),
	}
}

func (a *logAdmin) Name() string { return "log/" + a.adminType }

func (a *logAdmin) Score(ep *endpoint.Endpoint) float64 {
	return topology.MatchScore(ep, a.adminType, sampleScore, controlScore, defaultScore)
}

func (a *logAdmin) AddPublication(ctx context.Context, ep *endpoint.Endpoint) error {
	return a.add(ctx, "publication", ep)
}

func (a *logAdmin) RemovePublication(ctx context.Context, ep *endpoint.Endpoint) error {
	return a.remove(ctx, "publication", ep)
}

func (a *logAdmin) AddSubscription(ctx context.Context, ep *endpoint.Endpoint) error {
	return a.add(ctx, "subscription", ep)
}

func (a *logAdmin) RemoveSubscription(ctx context.Context, ep *endpoint.Endpoint) error {
	return a.remove(ctx, "subscription", ep)
}

func (a *logAdmin) CloseAllPublications(ctx context.Context, scope, topic string) error {
	return a.closeAll(ctx, endpoint.Publisher, scope, topic)
}

func (a *logAdmin) CloseAllSubscriptions(ctx context.Context, scope, topic string) error {
	return a.closeAll(ctx, endpoint.Subscriber, scope, topic)
}

func (a *logAdmin) add(ctx context.Context, kind string, ep *endpoint.Endpoint) error {
	a.mu.Lock()
	a.active[ep.UUID] = ep
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "bound "+kind,
		clog.String("uuid", ep.UUID),
		clog.String("topic", ep.ScopeTopicKey()),
		clog.String("framework_uuid", ep.FrameworkUUID),
		clog.String("url", ep.URL))
	return nil
}

func (a *logAdmin) remove(ctx context.Context, kind string, ep *endpoint.Endpoint) error {
	a.mu.Lock()
	delete(a.active, ep.UUID)
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "released "+kind, clog.String("uuid", ep.UUID))
	return nil
}

func (a *logAdmin) closeAll(ctx context.Context, typ endpoint.Type, scope, topic string) error {
	key := endpoint.ScopeTopicKey(scope, topic)
	closed := 0
	a.mu.Lock()
	for id, ep := range a.active {
		if ep.Type == typ && ep.ScopeTopicKey() == key {
			delete(a.active, id)
			closed++
		}
	}
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "closed topic",
		clog.String("type", string(typ)),
		clog.String("topic", key),
		clog.Int("closed", closed))
	return nil
}

func (a *logAdmin) activeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
