package topology

import (
	"context"
	"sync"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/xerrors"
)

// Manager 拓扑管理器
//
// Manager 不持有后台 goroutine，所有方法由调用方同步调用，
// 可以对不同端点并发调用；同一 UUID 的增删需要调用方串行化。
type Manager struct {
	frameworkUUID string
	logger        clog.Logger
	metrics       *managerMetrics

	adminsMu  sync.RWMutex
	admins    []Admin // 保持注册顺序，用于同分时的决胜
	adminsGen uint64  // admins 每次变化递增

	publications  *table
	subscriptions *table

	providersMu sync.RWMutex
	providers   []DiscoveryProvider
}

// NewManager 创建拓扑管理器，frameworkUUID 用于区分本进程发起的发布
func NewManager(frameworkUUID string, opts ...Option) (*Manager, error) {
	if frameworkUUID == "" {
		return nil, xerrors.New("framework uuid is required")
	}
	o := applyOptions(opts...)
	m, err := newManagerMetrics(o.meter)
	if err != nil {
		return nil, err
	}
	return &Manager{
		frameworkUUID: frameworkUUID,
		logger:        o.logger,
		metrics:       m,
		publications:  newTable(kindPublication),
		subscriptions: newTable(kindSubscription),
	}, nil
}

// ============================================================================
// Admin
// ============================================================================

// AdminAdded 注册 admin，并把当前未绑定且该 admin 能处理的端点交给它
//
// 已经绑定到其他 admin 的端点不会重新匹配，即使新 admin 得分更高。
func (m *Manager) AdminAdded(ctx context.Context, a Admin) {
	if a == nil {
		return
	}
	m.adminsMu.Lock()
	m.admins = append(m.admins, a)
	m.adminsGen++
	n := len(m.admins)
	m.adminsMu.Unlock()

	m.metrics.admins.Set(ctx, float64(n))
	m.logger.Info("admin added", clog.String("admin", AdminName(a)), clog.Int("admins", n))

	m.offer(ctx, a, m.publications)
	m.offer(ctx, a, m.subscriptions)
	m.updateGauges(ctx)
}

func (m *Manager) offer(ctx context.Context, a Admin, t *table) {
	candidates := t.snapshot(func(e *entry) bool { return e.admin == nil })
	for _, c := range candidates {
		if a.Score(c.ep) <= 0 {
			continue
		}
		t.mu.Lock()
		claimed := !c.e.removed && c.e.admin == nil
		if claimed {
			c.e.admin = a
		}
		t.mu.Unlock()
		if !claimed {
			continue
		}
		m.bind(ctx, t, c.e, a)
	}
}

// AdminRemoved 注销 admin，并让它关闭每个主题上的发布和订阅
//
// 成功关闭的本地发布会从所有 DiscoveryProvider 撤回；被释放的端点保持未绑定状态。
func (m *Manager) AdminRemoved(ctx context.Context, a Admin) {
	if a == nil {
		return
	}
	name := AdminName(a)

	// 先注销，之后开始的匹配不会再选中它
	m.adminsMu.Lock()
	for i, existing := range m.admins {
		if existing == a {
			m.admins = append(m.admins[:i], m.admins[i+1:]...)
			m.adminsGen++
			break
		}
	}
	n := len(m.admins)
	m.adminsMu.Unlock()

	for _, st := range m.publications.topics() {
		released, ok := m.release(ctx, a, m.publications, st[0], st[1])
		if !ok {
			continue
		}
		for _, ep := range released {
			if ep.FrameworkUUID != m.frameworkUUID {
				continue
			}
			for _, p := range m.providerSnapshot() {
				if err := p.RemoveEndpoint(ctx, ep); err != nil {
					m.logger.Warn("provider failed to withdraw endpoint",
						clog.String("uuid", ep.UUID),
						clog.Error(err))
				}
			}
		}
	}
	for _, st := range m.subscriptions.topics() {
		m.release(ctx, a, m.subscriptions, st[0], st[1])
	}

	m.metrics.admins.Set(ctx, float64(n))
	m.updateGauges(ctx)
	m.logger.Info("admin removed", clog.String("admin", name), clog.Int("admins", n))
}

// release 让 admin 关闭某个主题，成功后解绑该主题下属于它的端点
func (m *Manager) release(ctx context.Context, a Admin, t *table, scope, topic string) ([]*endpoint.Endpoint, bool) {
	if err := t.kind.closeAll(ctx, a, scope, topic); err != nil {
		m.logger.Warn("admin failed to close topic",
			clog.String("admin", AdminName(a)),
			clog.String("kind", string(t.kind)),
			clog.String("scope", scope),
			clog.String("topic", topic),
			clog.Error(err))
		return nil, false
	}

	key := endpoint.ScopeTopicKey(scope, topic)
	var released []*endpoint.Endpoint
	t.mu.Lock()
	for _, e := range t.entries[key] {
		if e.admin == a {
			e.admin = nil
			released = append(released, e.ep)
		}
	}
	t.mu.Unlock()
	return released, true
}

// Admins 返回已注册 admin 的名称，按注册顺序
func (m *Manager) Admins() []string {
	admins := m.adminSnapshot()
	names := make([]string, len(admins))
	for i, a := range admins {
		names[i] = AdminName(a)
	}
	return names
}

// ============================================================================
// 本地端点
// ============================================================================

// LocalSubscriptionAdded 跟踪本地订阅，交给得分最高的 admin，并向 DiscoveryProvider 声明主题兴趣
//
// 端点无效时返回 endpoint.ErrInvalidEndpoint，端点不会进入任何表。
func (m *Manager) LocalSubscriptionAdded(ctx context.Context, ep *endpoint.Endpoint) error {
	replaced, err := m.track(ctx, m.subscriptions, ep)
	if err != nil {
		return err
	}
	if replaced {
		return nil
	}
	for _, p := range m.providerSnapshot() {
		ti, ok := p.(TopicInterest)
		if !ok {
			continue
		}
		if err := ti.InterestedInTopic(ctx, ep.Scope, ep.Topic); err != nil {
			m.logger.Warn("provider rejected topic interest",
				clog.String("topic", ep.ScopeTopicKey()),
				clog.Error(err))
		}
	}
	return nil
}

// LocalSubscriptionRemoved 撤销本地订阅
//
// 主题的最后一个订阅被移除时，每个 admin 都会收到一次 CloseAllSubscriptions。
// 端点从未被跟踪时返回 ErrNotTracked。
func (m *Manager) LocalSubscriptionRemoved(ctx context.Context, ep *endpoint.Endpoint) error {
	removed, err := m.untrack(ctx, m.subscriptions, ep)
	if err != nil {
		return err
	}
	for _, p := range m.providerSnapshot() {
		ti, ok := p.(TopicInterest)
		if !ok {
			continue
		}
		if err := ti.UninterestedInTopic(ctx, removed.Scope, removed.Topic); err != nil {
			m.logger.Warn("provider rejected topic uninterest",
				clog.String("topic", removed.ScopeTopicKey()),
				clog.Error(err))
		}
	}
	return nil
}

// LocalPublicationObserved 跟踪本地发布，交给得分最高的 admin，并把完整端点推送给每个 DiscoveryProvider
func (m *Manager) LocalPublicationObserved(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := m.track(ctx, m.publications, ep); err != nil {
		return err
	}
	for _, p := range m.providerSnapshot() {
		if err := p.AnnounceEndpoint(ctx, ep); err != nil {
			m.logger.Warn("provider failed to announce endpoint",
				clog.String("uuid", ep.UUID),
				clog.Error(err))
		}
	}
	return nil
}

// LocalPublicationWithdrawn 撤销本地发布，并从每个 DiscoveryProvider 撤回
func (m *Manager) LocalPublicationWithdrawn(ctx context.Context, ep *endpoint.Endpoint) error {
	removed, err := m.untrack(ctx, m.publications, ep)
	if err != nil {
		return err
	}
	for _, p := range m.providerSnapshot() {
		if err := p.RemoveEndpoint(ctx, removed); err != nil {
			m.logger.Warn("provider failed to withdraw endpoint",
				clog.String("uuid", removed.UUID),
				clog.Error(err))
		}
	}
	return nil
}

// ============================================================================
// 远端端点，实现 discovery.Listener
// ============================================================================

// DiscoveredEndpointAdded 处理发现的远端端点
//
// 远端发布者按远端发布处理；远端订阅者目前不做任何处理。
// 同一 UUID 重复添加按更新处理。
func (m *Manager) DiscoveredEndpointAdded(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep == nil {
		return xerrors.Wrap(endpoint.ErrInvalidEndpoint, "nil endpoint")
	}
	switch ep.Type {
	case endpoint.Publisher:
		_, err := m.track(ctx, m.publications, ep)
		return err
	case endpoint.Subscriber:
		m.logger.Debug("ignore discovered subscriber", clog.String("uuid", ep.UUID))
		return nil
	default:
		return xerrors.Wrapf(endpoint.ErrInvalidEndpoint, "unknown endpoint type %q", ep.Type)
	}
}

// DiscoveredEndpointRemoved 处理远端端点的消失
func (m *Manager) DiscoveredEndpointRemoved(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep == nil {
		return xerrors.Wrap(endpoint.ErrInvalidEndpoint, "nil endpoint")
	}
	switch ep.Type {
	case endpoint.Publisher:
		_, err := m.untrack(ctx, m.publications, ep)
		return err
	case endpoint.Subscriber:
		return nil
	default:
		return xerrors.Wrapf(endpoint.ErrInvalidEndpoint, "unknown endpoint type %q", ep.Type)
	}
}

// ============================================================================
// DiscoveryProvider
// ============================================================================

// DiscoveryProviderAdded 注册 provider，推送本进程发起的发布，并为每个已跟踪的订阅声明兴趣
func (m *Manager) DiscoveryProviderAdded(ctx context.Context, p DiscoveryProvider) {
	if p == nil {
		return
	}
	m.providersMu.Lock()
	m.providers = append(m.providers, p)
	m.providersMu.Unlock()

	local := m.publications.snapshot(func(e *entry) bool {
		return e.ep.FrameworkUUID == m.frameworkUUID
	})
	for _, v := range local {
		if err := p.AnnounceEndpoint(ctx, v.ep); err != nil {
			m.logger.Warn("provider failed to announce endpoint",
				clog.String("uuid", v.ep.UUID),
				clog.Error(err))
		}
	}

	if ti, ok := p.(TopicInterest); ok {
		for _, v := range m.subscriptions.snapshot(nil) {
			if err := ti.InterestedInTopic(ctx, v.ep.Scope, v.ep.Topic); err != nil {
				m.logger.Warn("provider rejected topic interest",
					clog.String("topic", v.ep.ScopeTopicKey()),
					clog.Error(err))
			}
		}
	}
	m.logger.Info("discovery provider added", clog.Int("announced", len(local)))
}

// DiscoveryProviderRemoved 注销 provider，不会发送任何撤回
func (m *Manager) DiscoveryProviderRemoved(p DiscoveryProvider) {
	m.providersMu.Lock()
	defer m.providersMu.Unlock()
	for i, existing := range m.providers {
		if existing == p {
			m.providers = append(m.providers[:i], m.providers[i+1:]...)
			return
		}
	}
}

// ============================================================================
// 匹配
// ============================================================================

// track 把端点加入表并绑定到得分最高的 admin。
// 同一 UUID 已存在时先从原 admin 移除再重新匹配，replaced 为 true。
func (m *Manager) track(ctx context.Context, t *table, ep *endpoint.Endpoint) (replaced bool, err error) {
	if err := ep.Err(); err != nil {
		m.logger.Warn("reject invalid endpoint",
			clog.String("kind", string(t.kind)),
			clog.Error(err))
		return false, err
	}
	ep = ep.Clone()
	key := ep.ScopeTopicKey()
	e := &entry{ep: ep}

	var (
		winner    Admin
		score     float64
		prev      *entry
		prevAdmin Admin
	)
	for {
		admins, gen := m.adminGeneration()
		winner, score = bestAdmin(admins, ep)

		// 按 admins -> 表 的顺序加锁；打分期间 admin 列表变化则重新打分，
		// 否则新注册的 admin 看不到这个端点，被注销的 admin 却可能拿到它
		m.adminsMu.RLock()
		if m.adminsGen != gen {
			m.adminsMu.RUnlock()
			continue
		}
		e.admin = winner
		t.mu.Lock()
		if i, old := t.findLocked(key, ep.UUID); old != nil {
			prev, prevAdmin = old, old.admin
			old.removed = true
			old.admin = nil
			t.entries[key][i] = e
		} else {
			t.entries[key] = append(t.entries[key], e)
		}
		t.mu.Unlock()
		m.adminsMu.RUnlock()
		break
	}

	if prevAdmin != nil {
		if err := t.kind.remove(ctx, prevAdmin, prev.ep); err != nil {
			m.logger.Warn("admin failed to remove replaced endpoint",
				clog.String("admin", AdminName(prevAdmin)),
				clog.String("uuid", ep.UUID),
				clog.Error(err))
		}
	}

	if winner == nil {
		m.metrics.matches.Inc(ctx, metrics.L("kind", string(t.kind)), metrics.L("result", "none"))
		m.logger.Debug("endpoint tracked without admin",
			clog.String("uuid", ep.UUID),
			clog.String("topic", key),
			clog.String("code", xerrors.GetCode(ErrNoMatchingAdmin)))
	} else {
		m.metrics.matches.Inc(ctx, metrics.L("kind", string(t.kind)), metrics.L("result", "bound"))
		m.logger.Debug("endpoint matched",
			clog.String("uuid", ep.UUID),
			clog.String("topic", key),
			clog.String("admin", AdminName(winner)),
			clog.Float64("score", score))
		m.bind(ctx, t, e, winner)
	}
	m.updateGauges(ctx)
	return prev != nil, nil
}

// bind 调用 admin 接手端点，失败时解除绑定。
// add 返回前 admin 已被注销并释放了该端点时，撤销这次 add。
func (m *Manager) bind(ctx context.Context, t *table, e *entry, a Admin) {
	err := t.kind.add(ctx, a, e.ep)

	t.mu.Lock()
	released := e.admin != a && !e.removed
	if err != nil && e.admin == a {
		e.admin = nil
	}
	t.mu.Unlock()

	if err != nil {
		m.logger.Warn("admin rejected endpoint",
			clog.String("admin", AdminName(a)),
			clog.String("kind", string(t.kind)),
			clog.String("uuid", e.ep.UUID),
			clog.Error(err))
		return
	}
	if released {
		if err := t.kind.remove(ctx, a, e.ep); err != nil {
			m.logger.Warn("admin failed to remove released endpoint",
				clog.String("admin", AdminName(a)),
				clog.String("uuid", e.ep.UUID),
				clog.Error(err))
		}
	}
}

// untrack 从表中移除端点并让绑定的 admin 释放它；主题清空时通知所有 admin 关闭该主题
func (m *Manager) untrack(ctx context.Context, t *table, ep *endpoint.Endpoint) (*endpoint.Endpoint, error) {
	if ep == nil {
		return nil, ErrNotTracked
	}
	key := ep.ScopeTopicKey()

	t.mu.Lock()
	i, e := t.findLocked(key, ep.UUID)
	if e == nil {
		t.mu.Unlock()
		return nil, xerrors.Wrapf(ErrNotTracked, "%s %s", t.kind, ep.UUID)
	}
	admin := e.admin
	e.admin = nil
	t.deleteLocked(key, i)
	_, stillUsed := t.entries[key]
	t.mu.Unlock()

	if admin != nil {
		if err := t.kind.remove(ctx, admin, e.ep); err != nil {
			m.logger.Warn("admin failed to remove endpoint",
				clog.String("admin", AdminName(admin)),
				clog.String("uuid", e.ep.UUID),
				clog.Error(err))
		}
	}

	if !stillUsed {
		for _, a := range m.adminSnapshot() {
			if err := t.kind.closeAll(ctx, a, e.ep.Scope, e.ep.Topic); err != nil {
				m.logger.Warn("admin failed to close topic",
					clog.String("admin", AdminName(a)),
					clog.String("topic", key),
					clog.Error(err))
			}
		}
	}
	m.updateGauges(ctx)
	return e.ep, nil
}

// bestAdmin 按注册顺序扫描，只有严格更高的得分才会替换当前最优
func bestAdmin(admins []Admin, ep *endpoint.Endpoint) (Admin, float64) {
	var (
		best      Admin
		bestScore float64
	)
	for _, a := range admins {
		if s := a.Score(ep); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best, bestScore
}

func (m *Manager) adminSnapshot() []Admin {
	m.adminsMu.RLock()
	defer m.adminsMu.RUnlock()
	return append([]Admin(nil), m.admins...)
}

func (m *Manager) adminGeneration() ([]Admin, uint64) {
	m.adminsMu.RLock()
	defer m.adminsMu.RUnlock()
	return append([]Admin(nil), m.admins...), m.adminsGen
}

func (m *Manager) providerSnapshot() []DiscoveryProvider {
	m.providersMu.RLock()
	defer m.providersMu.RUnlock()
	return append([]DiscoveryProvider(nil), m.providers...)
}

func (m *Manager) updateGauges(ctx context.Context) {
	for _, t := range []*table{m.publications, m.subscriptions} {
		tracked, bound := t.counts()
		m.metrics.tracked.Set(ctx, float64(tracked), metrics.L("kind", string(t.kind)))
		m.metrics.bound.Set(ctx, float64(bound), metrics.L("kind", string(t.kind)))
	}
}
