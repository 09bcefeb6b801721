package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEtcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx := context.Background()
	service := "echo-" + time.Now().Format("150405.000000")

	e1 := Endpoint{URI: "ws://127.0.0.1:8001/ws", Weight: 10, Version: "1.0"}
	e2 := Endpoint{URI: "ws://127.0.0.1:8002/ws", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, service, e1, 10))
	require.NoError(t, reg.Register(ctx, service, e2, 10))

	endpoints, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Endpoint{e1, e2}, endpoints)

	require.NoError(t, reg.Deregister(ctx, service, e1.URI))

	endpoints, err = reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{e2}, endpoints)

	require.NoError(t, reg.Deregister(ctx, service, e2.URI))
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service := "watch-" + time.Now().Format("150405.000000")

	updates := reg.Watch(ctx, service)
	// give the watcher time to subscribe
	time.Sleep(100 * time.Millisecond)

	e := Endpoint{URI: "ws://127.0.0.1:9001/ws", Weight: 1}
	require.NoError(t, reg.Register(ctx, service, e, 10))

	select {
	case got := <-updates:
		assert.Equal(t, []Endpoint{e}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}

	require.NoError(t, reg.Deregister(context.Background(), service, e.URI))
}
