// Package topology 维护本地的发布/订阅表，并把每个端点匹配给得分最高的传输后端（admin）。
//
// Manager 有四个相互独立的锁域：admins、publications、subscriptions、providers。
// 需要多个锁域时按 admins → publications/subscriptions → providers 的顺序获取；
// 调用 Admin 或 DiscoveryProvider 之前总是先释放锁，外部实现可以安全地回调 Manager。
//
// 匹配规则：对每个 admin 调用 Score，只有严格大于 0 的最高分胜出，同分时先注册的 admin 胜出。
// 每个端点任意时刻最多绑定一个 admin。
//
// ## 基本使用
//
//	manager := topology.NewManager(frameworkUUID, topology.WithLogger(logger))
//	manager.AdminAdded(ctx, tcpAdmin)
//	manager.DiscoveryProviderAdded(ctx, store)
//	store.AddListener(ctx, manager)
//
//	_ = manager.LocalSubscriptionAdded(ctx, sub)
//	_ = manager.LocalPublicationObserved(ctx, pub)
package topology

import (
	"context"

	"github.com/ceyewan/pubsub/endpoint"
)

// Admin 传输后端
//
// Score 返回值 <= 0 表示不能处理该端点。
type Admin interface {
	Score(ep *endpoint.Endpoint) float64

	AddPublication(ctx context.Context, ep *endpoint.Endpoint) error
	RemovePublication(ctx context.Context, ep *endpoint.Endpoint) error
	AddSubscription(ctx context.Context, ep *endpoint.Endpoint) error
	RemoveSubscription(ctx context.Context, ep *endpoint.Endpoint) error

	CloseAllPublications(ctx context.Context, scope, topic string) error
	CloseAllSubscriptions(ctx context.Context, scope, topic string) error
}

// DiscoveryProvider 能把本地端点公布给其他进程的组件，discovery.Store 是其中一种
type DiscoveryProvider interface {
	AnnounceEndpoint(ctx context.Context, ep *endpoint.Endpoint) error
	RemoveEndpoint(ctx context.Context, ep *endpoint.Endpoint) error
}

// TopicInterest 可选接口，DiscoveryProvider 实现它即可收到订阅主题的兴趣声明
type TopicInterest interface {
	InterestedInTopic(ctx context.Context, scope, topic string) error
	UninterestedInTopic(ctx context.Context, scope, topic string) error
}

// Named 可选接口，用于在快照和日志中显示 admin 名称
type Named interface {
	Name() string
}

// AdminName 返回 admin 的显示名称
func AdminName(a Admin) string {
	if a == nil {
		return ""
	}
	if n, ok := a.(Named); ok {
		return n.Name()
	}
	return "anonymous"
}
