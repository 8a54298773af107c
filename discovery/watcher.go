package discovery

import (
	"context"
	"errors"
	"strings"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/metrics"
)

// bootstrap 完整列出目录子树，与已知的远端端点做差异比较：
// 新出现或内容变化的端点通知添加，已不在目录中的端点通知删除。
// 成功后把 watch 游标设为列出时的目录版本号。
func (s *Store) bootstrap(ctx context.Context) error {
	nodes, rev, err := s.dir.GetDirectory(ctx, s.cfg.RootPath)
	s.metrics.directoryOps.Inc(ctx, metrics.L("op", "list"), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		ep, err := endpoint.FromJSON([]byte(node.Value))
		if err != nil {
			s.metrics.droppedEvents.Inc(ctx, metrics.L("reason", "decode"))
			s.logger.Warn("drop undecodable directory entry",
				clog.String("key", node.Key),
				clog.Error(err))
			continue
		}
		seen[ep.UUID] = struct{}{}
		s.handleAdd(ctx, ep)
	}

	var stale []*endpoint.Endpoint
	s.discoveredMu.Lock()
	for id, d := range s.discovered {
		if _, ok := seen[id]; !ok {
			stale = append(stale, d.ep)
		}
	}
	s.discoveredMu.Unlock()
	for _, ep := range stale {
		s.handleRemove(ctx, ep)
	}

	s.cursor.Store(rev)
	s.bootstrapped.Store(true)
	s.logger.Debug("directory listed",
		clog.Int("entries", len(nodes)),
		clog.Int("stale", len(stale)),
		clog.Int64("cursor", rev))
	return nil
}

// watchLoop 持续从游标处 watch 目录，直到 ctx 取消
func (s *Store) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	for ctx.Err() == nil {
		if !s.bootstrapped.Load() {
			if err := s.bootstrap(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("directory listing failed",
					clog.Duration("retry_after", s.cfg.retryInterval()),
					clog.Error(err))
				if !sleep(ctx, s.cfg.retryInterval()) {
					return
				}
			}
			continue
		}
		if !s.watchOnce(ctx) {
			return
		}
	}
}

// watchOnce 执行一次 watch 调用，返回 false 表示应退出循环
func (s *Store) watchOnce(ctx context.Context) bool {
	ev, err := s.dir.Watch(ctx, s.cfg.RootPath, s.cursor.Load()+1)
	// 阻塞调用返回后立即检查，关闭延迟不超过一次 watch 往返
	if ctx.Err() != nil {
		return false
	}

	switch {
	case errors.Is(err, directory.ErrIndexCleared):
		s.logger.Info("watch index cleared, relisting directory", clog.Int64("cursor", s.cursor.Load()))
		s.bootstrapped.Store(false)
		return true
	case err != nil:
		s.metrics.directoryOps.Inc(ctx, metrics.L("op", "watch"), metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		s.logger.Warn("watch failed",
			clog.Duration("retry_after", s.cfg.retryInterval()),
			clog.Error(err))
		return sleep(ctx, s.cfg.retryInterval())
	case ev == nil:
		return sleep(ctx, s.cfg.retryInterval())
	}

	s.metrics.directoryOps.Inc(ctx, metrics.L("op", "watch"), metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
	s.handleEvent(ctx, ev)
	s.cursor.Store(ev.ModIndex)
	return true
}

func (s *Store) handleEvent(ctx context.Context, ev *directory.Event) {
	s.metrics.watchEvents.Inc(ctx, metrics.L("action", string(ev.Action)))
	s.logEvent(ev)

	switch ev.Action {
	case directory.ActionCreate, directory.ActionSet, directory.ActionUpdate:
		ep, err := endpoint.FromJSON([]byte(ev.Value))
		if err != nil {
			s.metrics.droppedEvents.Inc(ctx, metrics.L("reason", "decode"))
			s.logger.Warn("drop undecodable directory event",
				clog.String("key", ev.Key),
				clog.String("action", string(ev.Action)),
				clog.Error(err))
			return
		}
		s.handleAdd(ctx, ep)

	case directory.ActionDelete, directory.ActionExpire:
		ep := s.removedEndpoint(ev)
		if ep == nil {
			s.metrics.droppedEvents.Inc(ctx, metrics.L("reason", "unknown_removal"))
			s.logger.Debug("drop removal of unknown endpoint", clog.String("key", ev.Key))
			return
		}
		s.handleRemove(ctx, ep)

	default:
		s.logger.Info("ignore directory event",
			clog.String("key", ev.Key),
			clog.String("action", string(ev.Action)))
	}
}

// removedEndpoint 还原被删除的端点
//
// 优先解析事件携带的旧值；旧值不可用时按路径最后一段的 UUID 查找已发现缓存。
func (s *Store) removedEndpoint(ev *directory.Event) *endpoint.Endpoint {
	if ev.PrevValue != "" {
		if ep, err := endpoint.FromJSON([]byte(ev.PrevValue)); err == nil {
			return ep
		}
	}
	path, ok := s.parseKey(ev.Key)
	if !ok {
		return nil
	}
	s.discoveredMu.Lock()
	defer s.discoveredMu.Unlock()
	if d, ok := s.discovered[path.uuid]; ok {
		return d.ep
	}
	return nil
}

func (s *Store) handleAdd(ctx context.Context, ep *endpoint.Endpoint) {
	if ep.FrameworkUUID == s.frameworkUUID {
		return
	}

	s.discoveredMu.Lock()
	if old, ok := s.discovered[ep.UUID]; ok && old.ep.SameContent(ep) {
		s.discoveredMu.Unlock()
		return
	}
	s.discovered[ep.UUID] = &discoveredEntry{ep: ep, discoveredAt: s.now()}
	count := len(s.discovered)
	s.discoveredMu.Unlock()

	s.metrics.discovered.Set(ctx, float64(count))
	s.notifyAdded(ctx, ep)
}

func (s *Store) handleRemove(ctx context.Context, ep *endpoint.Endpoint) {
	if ep.FrameworkUUID == s.frameworkUUID {
		return
	}

	s.discoveredMu.Lock()
	if old, ok := s.discovered[ep.UUID]; ok {
		ep = old.ep
		delete(s.discovered, ep.UUID)
	}
	count := len(s.discovered)
	s.discoveredMu.Unlock()

	s.metrics.discovered.Set(ctx, float64(count))
	s.notifyRemoved(ctx, ep)
}

func (s *Store) notifyAdded(ctx context.Context, ep *endpoint.Endpoint) {
	for _, l := range s.listenerSnapshot() {
		if err := l.DiscoveredEndpointAdded(ctx, ep); err != nil {
			s.logger.Warn("listener rejected discovered endpoint",
				clog.String("uuid", ep.UUID),
				clog.Error(err))
		}
	}
}

func (s *Store) notifyRemoved(ctx context.Context, ep *endpoint.Endpoint) {
	for _, l := range s.listenerSnapshot() {
		if err := l.DiscoveredEndpointRemoved(ctx, ep); err != nil {
			s.logger.Warn("listener rejected endpoint removal",
				clog.String("uuid", ep.UUID),
				clog.Error(err))
		}
	}
}

func (s *Store) logEvent(ev *directory.Event) {
	fields := []clog.Field{
		clog.String("action", string(ev.Action)),
		clog.String("key", ev.Key),
		clog.Int64("mod_index", ev.ModIndex),
	}
	if s.cfg.Verbose {
		s.logger.Info("directory event", fields...)
		return
	}
	s.logger.Debug("directory event", fields...)
}

// keyPath 目录路径 root/scope/topic/frameworkUUID/endpointUUID 的各段
type keyPath struct {
	scope         string
	topic         string
	frameworkUUID string
	uuid          string
}

// parseKey 解析目录路径；段数不符时仍尝试取最后一段作为 UUID
func (s *Store) parseKey(key string) (keyPath, bool) {
	rest := strings.TrimPrefix(key, s.cfg.RootPath+"/")
	parts := strings.Split(rest, "/")
	if len(parts) == 4 {
		return keyPath{scope: parts[0], topic: parts[1], frameworkUUID: parts[2], uuid: parts[3]}, true
	}
	last := parts[len(parts)-1]
	if last == "" {
		return keyPath{}, false
	}
	return keyPath{uuid: last}, true
}
