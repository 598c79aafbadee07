package oxcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Kirky-X/oxcache/oxconfig"
)

func testConfig(addr string) oxconfig.Config {
	cfg := oxconfig.Default()
	svc := oxconfig.DefaultService()
	svc.TTL = time.Minute
	svc.L1.TTL = time.Minute
	svc.L2.ConnectionString = addr
	cfg.Services = map[string]oxconfig.Service{"orders": svc}
	return cfg
}

func TestManagerInitAndGet(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(nil)
	require.NoError(t, m.Init(testConfig(mr.Addr())))

	client, err := m.Get("orders")
	require.NoError(t, err)
	require.NotNil(t, client)

	require.NoError(t, m.ShutdownAll(context.Background()))
}

func TestManagerDoubleInitErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(nil)
	require.NoError(t, m.Init(testConfig(mr.Addr())))

	err := m.Init(testConfig(mr.Addr()))
	require.Error(t, err)
}

func TestManagerGetUnknownService(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(nil)
	require.NoError(t, m.Init(testConfig(mr.Addr())))

	_, err := m.Get("missing")
	require.Error(t, err)
}
