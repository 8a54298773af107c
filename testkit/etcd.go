package testkit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/connector"
)

// GetEtcdConfig 返回 Etcd 测试配置
//
// 默认连接 localhost:2379，可通过 ETCD_ENDPOINTS（逗号分隔）覆盖。
func GetEtcdConfig() *connector.EtcdConfig {
	endpoints := []string{"localhost:2379"}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		endpoints = strings.Split(v, ",")
	}
	return &connector.EtcdConfig{
		Name:           "test-etcd",
		Endpoints:      endpoints,
		DialTimeout:    2 * time.Second,
		ConnectTimeout: 2 * time.Second,
	}
}

// GetEtcdConnector 获取已连接的 Etcd 连接器，etcd 不可达时跳过测试
func GetEtcdConnector(t *testing.T) connector.EtcdConnector {
	t.Helper()
	conn, err := connector.NewEtcd(GetEtcdConfig(), connector.WithLogger(clog.Discard()))
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	if err := conn.Connect(context.Background()); err != nil {
		_ = conn.Close()
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// GetEtcdClient 获取原生 Etcd 客户端
func GetEtcdClient(t *testing.T) *clientv3.Client {
	return GetEtcdConnector(t).GetClient()
}
