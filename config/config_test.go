package config

import (
	"testing"
	"time"

	"mini-socket/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default().Socket, cfg.Socket)
	assert.Equal(t, protocol.DefaultErrorPolicy(), cfg.ErrorPolicy())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SOCKET_URI", "ws://example.test/ws")
	t.Setenv("SOCKET_ERROR_TYPE", "FAILURE")
	t.Setenv("SOCKET_ERROR_FIELD", "failed")
	t.Setenv("SOCKET_RECONNECT_DELAY", "250ms")
	t.Setenv("ETCD_ENDPOINTS", "127.0.0.1:2379,127.0.0.1:22379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://example.test/ws", cfg.Socket.URI)
	assert.Equal(t, 250*time.Millisecond, cfg.Socket.ReconnectDelay)
	assert.Equal(t, protocol.ErrorPolicy{Type: "FAILURE", Field: "failed"}, cfg.ErrorPolicy())
	assert.Equal(t, []string{"127.0.0.1:2379", "127.0.0.1:22379"}, cfg.Registry.Endpoints)
	assert.True(t, cfg.DiscoveryEnabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadOrDefaultOnBadValue(t *testing.T) {
	t.Setenv("SOCKET_RECONNECT_DELAY", "soon")

	_, err := Load()
	assert.Error(t, err)
	assert.Equal(t, Default(), LoadOrDefault())
}
