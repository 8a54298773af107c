package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discoveryConfig struct {
	RootPath string        `mapstructure:"root_path"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type appConfig struct {
	Discovery discoveryConfig `mapstructure:"discovery"`
	Log       struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{EnvPrefix: "custom"}
	require.NoError(t, cfg.validate())
	assert.Equal(t, "pubsubd", cfg.Name)
	assert.Equal(t, []string{".", "./config"}, cfg.Paths)
	assert.Equal(t, "yaml", cfg.FileType)
	assert.Equal(t, "CUSTOM", cfg.EnvPrefix)
}

func TestLoad_Layers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pubsubd.yaml", `
discovery:
  root_path: "fleet/discovery"
  ttl: 30s
log:
  level: info
`)
	writeFile(t, dir, "pubsubd.dev.yaml", `
log:
  level: debug
`)
	t.Setenv("PUBSUBTEST_ENV", "dev")
	t.Setenv("PUBSUBTEST_DISCOVERY_TTL", "10s")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "PUBSUBTEST"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
	assert.Equal(t, filepath.Join(dir, "pubsubd.yaml"), loader.ConfigFileUsed())

	var cfg appConfig
	require.NoError(t, loader.Unmarshal(&cfg))
	assert.Equal(t, "fleet/discovery", cfg.Discovery.RootPath)
	assert.Equal(t, 10*time.Second, cfg.Discovery.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)

	var d discoveryConfig
	require.NoError(t, loader.UnmarshalKey("discovery", &d))
	assert.Equal(t, "fleet/discovery", d.RootPath)
}

func TestLoad_DefaultsAndEnvWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PUBSUBDEF_DISCOVERY_ROOT_PATH", "from/env")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "PUBSUBDEF"},
		WithDefaults(map[string]any{
			"discovery.root_path": "pubsub/discovery",
			"discovery.ttl":       "30s",
		}))
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
	assert.Empty(t, loader.ConfigFileUsed())

	var cfg appConfig
	require.NoError(t, loader.Unmarshal(&cfg))
	assert.Equal(t, "from/env", cfg.Discovery.RootPath)
	assert.Equal(t, 30*time.Second, cfg.Discovery.TTL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "PUBSUBDOT_LOG_LEVEL=warn\n")
	t.Cleanup(func() { _ = os.Unsetenv("PUBSUBDOT_LOG_LEVEL") })

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "PUBSUBDOT"},
		WithDefaults(map[string]any{"log.level": "info"}))
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
	assert.Equal(t, "warn", loader.Get("log.level"))
}

func TestLoad_EmptyConfigFails(t *testing.T) {
	loader, err := New(&Config{Paths: []string{t.TempDir()}, EnvPrefix: "PUBSUBEMPTY"})
	require.NoError(t, err)
	err = loader.Load(context.Background())
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pubsubd.yaml", "discovery: [unclosed")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "PUBSUBBAD"})
	require.NoError(t, err)
	assert.Error(t, loader.Load(context.Background()))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pubsubd.yaml", "log:\n  level: info\n")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "PUBSUBWATCH"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "log.level")
	require.NoError(t, err)

	// 等待 fsnotify 开始监听
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	// 截断和写入可能产生多个事件，等待最终值
	deadline := time.After(3 * time.Second)
	for got := false; !got; {
		select {
		case ev := <-ch:
			assert.Equal(t, "log.level", ev.Key)
			assert.Equal(t, "file", ev.Source)
			got = ev.Value == "debug"
		case <-deadline:
			t.Fatal("no config change event")
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWrapLoadError(t *testing.T) {
	assert.NoError(t, WrapLoadError(nil, "x"))
	err := WrapLoadError(ErrValidationFailed, "pubsubd")
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "pubsubd")
}
