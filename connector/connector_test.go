package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/pubsub/clog"
)

func TestEtcdConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EtcdConfig
		wantErr bool
	}{
		{"missing endpoints", EtcdConfig{}, true},
		{"password without username", EtcdConfig{Endpoints: []string{"127.0.0.1:2379"}, Password: "p"}, true},
		{"minimal", EtcdConfig{Endpoints: []string{"127.0.0.1:2379"}}, false},
		{"auth", EtcdConfig{Endpoints: []string{"127.0.0.1:2379"}, Username: "u", Password: "p"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "default", tt.cfg.Name)
			assert.Equal(t, 5*time.Second, tt.cfg.DialTimeout)
			assert.Equal(t, 10*time.Second, tt.cfg.KeepAliveTime)
		})
	}
}

func TestNewEtcdInvalidConfig(t *testing.T) {
	_, err := NewEtcd(nil)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewEtcd(&EtcdConfig{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEtcdConnectorUnreachable(t *testing.T) {
	conn, err := NewEtcd(&EtcdConfig{
		Name:           "unreachable",
		Endpoints:      []string{"127.0.0.1:1"},
		ConnectTimeout: 200 * time.Millisecond,
		DialTimeout:    200 * time.Millisecond,
	}, WithLogger(clog.Discard()))
	require.NoError(t, err)
	assert.Equal(t, "unreachable", conn.Name())
	assert.NotNil(t, conn.GetClient())

	ctx := context.Background()
	err = conn.Connect(ctx)
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, conn.IsHealthy())
	assert.ErrorIs(t, conn.HealthCheck(ctx), ErrHealthCheck)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Connect(ctx), ErrClosed)
	assert.ErrorIs(t, conn.HealthCheck(ctx), ErrClosed)
}
