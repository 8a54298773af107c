package topology

import "github.com/ceyewan/pubsub/endpoint"

// Binding 表中一个端点的快照
type Binding struct {
	Endpoint *endpoint.Endpoint `json:"-"`
	UUID     string             `json:"uuid"`
	Scope    string             `json:"scope"`
	Topic    string             `json:"topic"`
	Origin   string             `json:"framework_uuid"`
	Admin    string             `json:"admin,omitempty"` // 空表示未绑定
}

// Publications 返回发布表快照，按 scope:topic 排序，主题内保持插入顺序
func (m *Manager) Publications() []Binding {
	return bindings(m.publications)
}

// Subscriptions 返回订阅表快照
func (m *Manager) Subscriptions() []Binding {
	return bindings(m.subscriptions)
}

func bindings(t *table) []Binding {
	views := t.snapshot(nil)
	out := make([]Binding, 0, len(views))
	for _, v := range views {
		out = append(out, Binding{
			Endpoint: v.ep.Clone(),
			UUID:     v.ep.UUID,
			Scope:    v.ep.Scope,
			Topic:    v.ep.Topic,
			Origin:   v.ep.FrameworkUUID,
			Admin:    AdminName(v.admin),
		})
	}
	return out
}
