package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceyewan/pubsub/endpoint"
)

// Call 一次被记录的调用
type Call struct {
	Method string
	UUID   string // 端点类调用
	Scope  string // 主题类调用
	Topic  string
}

func (c Call) String() string {
	if c.UUID != "" {
		return fmt.Sprintf("%s(%s)", c.Method, c.UUID)
	}
	return fmt.Sprintf("%s(%s:%s)", c.Method, c.Scope, c.Topic)
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls 返回所有调用的副本
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count 返回某个方法被调用的次数；uuid 非空时只统计该端点
func (r *recorder) Count(method, uuid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method && (uuid == "" || c.UUID == uuid) {
			n++
		}
	}
	return n
}

// Reset 清空调用记录
func (r *recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Admin 记录所有调用的传输后端，ScoreFunc 为空时对所有端点返回 0
type Admin struct {
	recorder
	AdminName string
	ScoreFunc func(ep *endpoint.Endpoint) float64
	// FailClose 为 true 时 CloseAll* 返回错误
	FailClose bool
}

// NewAdmin 返回一个对所有端点给出固定得分的 Admin
func NewAdmin(name string, score float64) *Admin {
	return &Admin{
		AdminName: name,
		ScoreFunc: func(*endpoint.Endpoint) float64 { return score },
	}
}

func (a *Admin) Name() string { return a.AdminName }

func (a *Admin) Score(ep *endpoint.Endpoint) float64 {
	if a.ScoreFunc == nil {
		return 0
	}
	return a.ScoreFunc(ep)
}

func (a *Admin) AddPublication(ctx context.Context, ep *endpoint.Endpoint) error {
	a.record(Call{Method: "AddPublication", UUID: ep.UUID})
	return nil
}

func (a *Admin) RemovePublication(ctx context.Context, ep *endpoint.Endpoint) error {
	a.record(Call{Method: "RemovePublication", UUID: ep.UUID})
	return nil
}

func (a *Admin) AddSubscription(ctx context.Context, ep *endpoint.Endpoint) error {
	a.record(Call{Method: "AddSubscription", UUID: ep.UUID})
	return nil
}

func (a *Admin) RemoveSubscription(ctx context.Context, ep *endpoint.Endpoint) error {
	a.record(Call{Method: "RemoveSubscription", UUID: ep.UUID})
	return nil
}

func (a *Admin) CloseAllPublications(ctx context.Context, scope, topic string) error {
	a.record(Call{Method: "CloseAllPublications", Scope: scope, Topic: topic})
	if a.FailClose {
		return fmt.Errorf("%s: close failed", a.AdminName)
	}
	return nil
}

func (a *Admin) CloseAllSubscriptions(ctx context.Context, scope, topic string) error {
	a.record(Call{Method: "CloseAllSubscriptions", Scope: scope, Topic: topic})
	if a.FailClose {
		return fmt.Errorf("%s: close failed", a.AdminName)
	}
	return nil
}

// Provider 记录所有调用的发现组件，同时实现主题兴趣接口
type Provider struct {
	recorder
}

func (p *Provider) AnnounceEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	p.record(Call{Method: "AnnounceEndpoint", UUID: ep.UUID})
	return nil
}

func (p *Provider) RemoveEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	p.record(Call{Method: "RemoveEndpoint", UUID: ep.UUID})
	return nil
}

func (p *Provider) InterestedInTopic(ctx context.Context, scope, topic string) error {
	p.record(Call{Method: "InterestedInTopic", Scope: scope, Topic: topic})
	return nil
}

func (p *Provider) UninterestedInTopic(ctx context.Context, scope, topic string) error {
	p.record(Call{Method: "UninterestedInTopic", Scope: scope, Topic: topic})
	return nil
}

// AnnounceOnlyProvider 只实现基本接口的发现组件
type AnnounceOnlyProvider struct {
	recorder
}

func (p *AnnounceOnlyProvider) AnnounceEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	p.record(Call{Method: "AnnounceEndpoint", UUID: ep.UUID})
	return nil
}

func (p *AnnounceOnlyProvider) RemoveEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	p.record(Call{Method: "RemoveEndpoint", UUID: ep.UUID})
	return nil
}
