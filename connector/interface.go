// Package connector 管理 pubsub 与外部服务之间的连接。
//
// 当前只提供 etcd 连接器，目录客户端（directory.NewEtcd）借用它的 client。
//
// 基本使用：
//
//	conn, err := connector.NewEtcd(&connector.EtcdConfig{
//		Endpoints: []string{"127.0.0.1:2379"},
//	}, connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//
// 资源所有权：Connector 拥有底层连接的生命周期；组件只借用连接，不应调用 Close()。
// 应用层按 LIFO 顺序释放资源：先关闭依赖 Connector 的组件，再关闭 Connector。
package connector

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Connector 定义连接器的通用行为，方法均为并发安全
type Connector interface {
	// Connect 建立连接并做一次健康检查，可重复调用
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，可重复调用
	Close() error

	// HealthCheck 发送测试请求验证连接可用性，并更新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最后一次健康检查的结果
	IsHealthy() bool

	// Name 返回连接实例名称，用于日志和指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Close() 之后可能不可用
	GetClient() T
}

// EtcdConnector Etcd 连接器接口
type EtcdConnector interface {
	TypedConnector[*clientv3.Client]
}
