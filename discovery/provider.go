package discovery

import (
	"context"
	"errors"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/endpoint"
)

// AnnounceEndpoint 发布本地端点，供 topology.Manager 调用
//
// 只有 system 可见性的端点会写入目录，host/local 端点直接忽略。
// 目录写入失败不返回错误，续约循环会继续重试。
func (s *Store) AnnounceEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if err := ep.Err(); err != nil {
		return err
	}
	if v := ep.Visibility(); v != endpoint.VisibilitySystem {
		s.logger.Debug("skip non-system endpoint",
			clog.String("uuid", ep.UUID),
			clog.String("visibility", string(v)))
		return nil
	}
	if err := s.Announce(ctx, ep, true); errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// RemoveEndpoint 撤回本地端点
func (s *Store) RemoveEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep == nil {
		return nil
	}
	s.Withdraw(ctx, ep)
	return nil
}

// InterestedInTopic 记录对 (scope, topic) 的兴趣
//
// 目录按根路径整体 watch，兴趣只用于状态展示和日志。
func (s *Store) InterestedInTopic(ctx context.Context, scope, topic string) error {
	key := endpoint.ScopeTopicKey(scope, topic)
	s.interestMu.Lock()
	s.interest[key]++
	n := s.interest[key]
	s.interestMu.Unlock()
	if n == 1 {
		s.logger.Debug("interested in topic", clog.String("scope", scope), clog.String("topic", topic))
	}
	return nil
}

// UninterestedInTopic 撤销一次 InterestedInTopic
func (s *Store) UninterestedInTopic(ctx context.Context, scope, topic string) error {
	key := endpoint.ScopeTopicKey(scope, topic)
	s.interestMu.Lock()
	defer s.interestMu.Unlock()
	if s.interest[key] <= 1 {
		delete(s.interest, key)
		return nil
	}
	s.interest[key]--
	return nil
}
