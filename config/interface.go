// Package config 为 pubsubd 提供分层配置加载，基于 Viper 实现。
//
// 优先级从高到低：
//   - 环境变量（前缀默认 PUBSUB，"." 替换为 "_"，如 PUBSUB_DISCOVERY_TTL=10s）
//   - .env 文件（不会覆盖已存在的环境变量）
//   - 环境特定配置文件 <name>.<PUBSUB_ENV>.yaml
//   - 基础配置文件 <name>.yaml
//   - WithDefaults 注册的默认值
//
// 环境变量只能覆盖 Viper 已知的 key，因此需要通过 WithDefaults 注册完整的 key 集合。
//
// 基本使用：
//
//	loader, _ := config.New(&config.Config{Name: "pubsubd"},
//		config.WithDefaults(map[string]any{"discovery.ttl": "30s"}),
//		config.WithLogger(logger))
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//
//	var cfg AppConfig
//	_ = loader.Unmarshal(&cfg)
//
//	// 监听配置文件变化
//	ch, _ := loader.Watch(ctx, "log.level")
//	for event := range ch {
//		logger.Info("config changed", clog.String("key", event.Key))
//	}
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置，并开始监听配置文件变化
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体（使用 mapstructure tag）
	Unmarshal(v any) error

	// UnmarshalKey 将指定 key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error

	// ConfigFileUsed 返回实际读取的配置文件路径，未找到时为空
	ConfigFileUsed() string
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
