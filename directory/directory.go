// Package directory 抽象了带租约和 watch 能力的共享目录（KV 服务）。
//
// 端点发现通过目录交换信息：写入方把本地端点以 TTL 写入目录并周期续约，
// 监听方先整体列出子树，再从列出时的版本号开始增量 watch。
//
// 提供两种实现：
//   - NewEtcd：基于 etcd v3，TTL 映射为 lease，refreshOnly 映射为 KeepAliveOnce
//   - NewMemory：进程内实现，语义与 etcd 一致，用于测试和单机运行
//
// ## 基本使用
//
//	etcdConn, _ := connector.NewEtcd(&cfg.Etcd, connector.WithLogger(logger))
//	etcdConn.Connect(ctx)
//
//	dir, _ := directory.NewEtcd(etcdConn, &directory.Config{
//		WatchTimeout: 5 * time.Second,
//	}, directory.WithLogger(logger))
//	defer dir.Close()
//
//	_ = dir.Set(ctx, "pubsub/discovery/default/orders/fw/uuid", value, 30*time.Second, false)
//	nodes, rev, _ := dir.GetDirectory(ctx, "pubsub/discovery")
//	ev, _ := dir.Watch(ctx, "pubsub/discovery", rev+1)
package directory

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/pubsub/connector"
)

// Action 目录事件类型
type Action string

const (
	ActionCreate Action = "create"
	ActionSet    Action = "set"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExpire Action = "expire"
)

// IsRemoval 判断事件是否表示键被移除
func (a Action) IsRemoval() bool {
	return a == ActionDelete || a == ActionExpire
}

// Node 目录中的一个键值
type Node struct {
	Key      string
	Value    string
	ModIndex int64
}

// Event 一次目录变更
//
// 删除和过期事件的 Value 为空，PrevValue 携带被删除前的值。
type Event struct {
	Action    Action
	Key       string
	Value     string
	PrevValue string
	ModIndex  int64
}

// Directory 目录服务客户端
type Directory interface {
	// Get 读取单个键
	Get(ctx context.Context, key string) (*Node, error)

	// GetDirectory 列出 root 下的所有键，同时返回本次读取对应的目录版本号
	GetDirectory(ctx context.Context, root string) ([]Node, int64, error)

	// Set 以 ttl 写入键值。
	//
	// refreshOnly 为 true 时只续约，不修改值，也不会产生 watch 事件；
	// 键不存在或租约已失效时返回 ErrLeaseNotFound。
	Set(ctx context.Context, key, value string, ttl time.Duration, refreshOnly bool) error

	// Delete 删除键，键不存在时返回 ErrKeyNotFound
	Delete(ctx context.Context, key string) error

	// Watch 阻塞等待 root 下第一个版本号 >= since 的事件。
	//
	// 超过配置的 WatchTimeout 仍无事件时返回 (nil, nil)；
	// since 早于目录保留的历史时返回 ErrIndexCleared，调用方需要重新列出子树。
	Watch(ctx context.Context, root string, since int64) (*Event, error)

	// Close 释放资源，不会删除已写入的键
	Close() error
}

// prefixOf 返回 root 作为目录时的键前缀
func prefixOf(root string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// New 根据 cfg.Backend 创建目录客户端，并按 cfg.Breaker 决定是否包装熔断器。
//
// memory 后端忽略 conn，可以传 nil。
func New(cfg *Config, conn connector.EtcdConnector, opts ...Option) (Directory, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		dir Directory
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		dir, err = NewMemory(cfg, opts...)
	default:
		dir, err = NewEtcd(conn, cfg, opts...)
	}
	if err != nil {
		return nil, err
	}
	return WithBreaker(dir, cfg.Breaker, opts...), nil
}
