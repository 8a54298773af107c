package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/endpoint"
	"github.com/ceyewan/pubsub/metrics"
	"github.com/ceyewan/pubsub/xerrors"
)

// Announce 把端点写入目录
//
// persistLocally 为 true 时把端点副本加入本地已发布集合，由续约循环维持；
// 同一 UUID 重复发布会替换原有条目。只有同步写入失败时返回错误，
// 已加入本地集合的端点仍会在下个续约周期重试。
func (s *Store) Announce(ctx context.Context, ep *endpoint.Endpoint, persistLocally bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := ep.Err(); err != nil {
		return err
	}
	ep = ep.Clone()
	key := s.keyFor(ep)

	var entry *announcedEntry
	if persistLocally {
		entry = &announcedEntry{ep: ep, key: key, createTime: s.now()}
		s.announcedMu.Lock()
		if old, ok := s.announced[ep.UUID]; ok {
			entry.createTime = old.createTime
			entry.setCount = old.setCount
			entry.refreshCount = old.refreshCount
			entry.errorCount = old.errorCount
			// 路径变化时旧路径需要清理
			if old.key != key {
				defer s.deleteKey(ctx, old.key)
			}
		}
		s.announced[ep.UUID] = entry
		count := len(s.announced)
		s.announcedMu.Unlock()
		s.metrics.announced.Set(ctx, float64(count))
	}

	err := s.setKey(ctx, key, ep)
	if entry != nil {
		s.announcedMu.Lock()
		if s.announced[ep.UUID] == entry {
			if err == nil {
				entry.isPersisted = true
				entry.setCount++
			} else {
				entry.errorCount++
			}
		}
		s.announcedMu.Unlock()
	}
	if err != nil {
		s.logger.Warn("announce failed, will retry on next refresh",
			clog.String("uuid", ep.UUID),
			clog.String("key", key),
			clog.Error(err))
		return err
	}
	s.logger.Debug("endpoint announced", clog.String("uuid", ep.UUID), clog.String("key", key))
	return nil
}

// Withdraw 把端点从本地已发布集合移除，并尽力删除目录项
//
// 删除失败只记录日志，目录项会在 TTL 到期后消失。
func (s *Store) Withdraw(ctx context.Context, ep *endpoint.Endpoint) {
	if ep == nil || ep.UUID == "" {
		return
	}
	key := s.keyFor(ep)

	s.announcedMu.Lock()
	if old, ok := s.announced[ep.UUID]; ok {
		key = old.key
		delete(s.announced, ep.UUID)
	}
	count := len(s.announced)
	s.announcedMu.Unlock()
	s.metrics.announced.Set(ctx, float64(count))

	s.deleteKey(ctx, key)
}

// refreshLoop 每 TTL/2 执行一轮续约，定时器可被 ctx 立即打断
func (s *Store) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.refreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

// refreshOnce 对所有已发布条目执行一次续约
//
// isPersisted 的条目只续租约，不修改值，watch 方不会收到事件；
// 续约失败后把 isPersisted 置为 false，下一轮改为完整写入。
func (s *Store) refreshOnce(ctx context.Context) {
	start := time.Now()

	s.announcedMu.Lock()
	entries := make([]*announcedEntry, 0, len(s.announced))
	for _, e := range s.announced {
		entries = append(entries, e)
	}
	s.announcedMu.Unlock()

	for _, e := range entries {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.announcedMu.Lock()
		current := s.announced[e.ep.UUID] == e
		persisted := e.isPersisted
		s.announcedMu.Unlock()
		if !current {
			// 本轮快照之后已被撤回或替换
			continue
		}

		var err error
		if persisted {
			err = s.refreshKey(ctx, e.key)
		} else {
			err = s.setKey(ctx, e.key, e.ep)
		}

		s.announcedMu.Lock()
		now := s.announced[e.ep.UUID]
		s.announcedMu.Unlock()
		if now != e {
			if err == nil && !persisted {
				s.discardStaleWrite(ctx, e, now)
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.announcedMu.Lock()
		switch {
		case err == nil && persisted:
			e.refreshCount++
		case err == nil:
			e.isPersisted = true
			e.setCount++
		default:
			e.isPersisted = false
			e.errorCount++
		}
		s.announcedMu.Unlock()

		if err != nil {
			s.logger.Warn("refresh endpoint failed",
				clog.String("uuid", e.ep.UUID),
				clog.Bool("refresh_only", persisted),
				clog.Error(err))
		}
	}

	s.metrics.refreshDuration.Record(ctx, time.Since(start).Seconds())
}

// discardStaleWrite 处理写入期间条目被撤回或替换的情况：
// 撤回或路径改变时删除刚写回的目录项，同路径替换时让新条目下一轮完整写入
func (s *Store) discardStaleWrite(ctx context.Context, stale, now *announcedEntry) {
	if now != nil && now.key == stale.key {
		s.announcedMu.Lock()
		now.isPersisted = false
		s.announcedMu.Unlock()
		return
	}
	s.logger.Debug("drop key rewritten after withdraw",
		clog.String("uuid", stale.ep.UUID),
		clog.String("key", stale.key))
	s.deleteKey(ctx, stale.key)
}

func (s *Store) setKey(ctx context.Context, key string, ep *endpoint.Endpoint) error {
	value, err := ep.ToJSON()
	if err != nil {
		return xerrors.Wrapf(err, "encode endpoint %s", ep.UUID)
	}
	err = s.dir.Set(ctx, key, string(value), s.cfg.TTL, false)
	s.metrics.directoryOps.Inc(ctx, metrics.L("op", "set"), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	return err
}

func (s *Store) refreshKey(ctx context.Context, key string) error {
	err := s.dir.Set(ctx, key, "", s.cfg.TTL, true)
	s.metrics.directoryOps.Inc(ctx, metrics.L("op", "refresh"), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	return err
}

func (s *Store) deleteKey(ctx context.Context, key string) {
	err := s.dir.Delete(ctx, key)
	s.metrics.directoryOps.Inc(ctx, metrics.L("op", "delete"), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil && !errors.Is(err, directory.ErrKeyNotFound) {
		s.logger.Warn("withdraw endpoint failed, lease will expire",
			clog.String("key", key),
			clog.Error(err))
	}
}
