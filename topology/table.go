package topology

import (
	"context"
	"sort"
	"sync"

	"github.com/ceyewan/pubsub/endpoint"
)

// kind 区分发布表和订阅表
type kind string

const (
	kindPublication  kind = "publication"
	kindSubscription kind = "subscription"
)

func (k kind) add(ctx context.Context, a Admin, ep *endpoint.Endpoint) error {
	if k == kindPublication {
		return a.AddPublication(ctx, ep)
	}
	return a.AddSubscription(ctx, ep)
}

func (k kind) remove(ctx context.Context, a Admin, ep *endpoint.Endpoint) error {
	if k == kindPublication {
		return a.RemovePublication(ctx, ep)
	}
	return a.RemoveSubscription(ctx, ep)
}

func (k kind) closeAll(ctx context.Context, a Admin, scope, topic string) error {
	if k == kindPublication {
		return a.CloseAllPublications(ctx, scope, topic)
	}
	return a.CloseAllSubscriptions(ctx, scope, topic)
}

// entry 表中的一个端点及其绑定的 admin
type entry struct {
	ep      *endpoint.Endpoint
	admin   Admin // nil 表示没有 admin 接手
	removed bool
}

// table scope:topic -> 按插入顺序排列的端点，同一列表内 UUID 不重复
type table struct {
	kind    kind
	mu      sync.Mutex
	entries map[string][]*entry
}

func newTable(k kind) *table {
	return &table{kind: k, entries: make(map[string][]*entry)}
}

// findLocked 按 UUID 查找
func (t *table) findLocked(key, uuid string) (int, *entry) {
	for i, e := range t.entries[key] {
		if e.ep.UUID == uuid {
			return i, e
		}
	}
	return -1, nil
}

func (t *table) deleteLocked(key string, i int) {
	list := t.entries[key]
	list[i].removed = true
	list = append(list[:i], list[i+1:]...)
	if len(list) == 0 {
		delete(t.entries, key)
		return
	}
	t.entries[key] = list
}

// view 在锁内拍下的条目状态
type view struct {
	e     *entry
	ep    *endpoint.Endpoint
	admin Admin
}

// snapshot 返回满足 filter 的条目，按 key 排序、key 内保持插入顺序。filter 在锁内执行。
func (t *table) snapshot(filter func(*entry) bool) []view {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []view
	for _, k := range keys {
		for _, e := range t.entries[k] {
			if filter == nil || filter(e) {
				out = append(out, view{e: e, ep: e.ep, admin: e.admin})
			}
		}
	}
	return out
}

// topics 返回表中所有 (scope, topic)
func (t *table) topics() [][2]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ep := t.entries[k][0].ep
		out = append(out, [2]string{ep.Scope, ep.Topic})
	}
	return out
}

func (t *table) counts() (tracked, bound int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, list := range t.entries {
		for _, e := range list {
			tracked++
			if e.admin != nil {
				bound++
			}
		}
	}
	return tracked, bound
}
