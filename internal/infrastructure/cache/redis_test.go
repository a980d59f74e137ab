package cache

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysettle/internal/config"
)

func redisConfig(t *testing.T, mr *miniredis.Miniredis) *config.RedisConfig {
	t.Helper()
	host, portStr, found := strings.Cut(mr.Addr(), ":")
	require.True(t, found)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.RedisConfig{Enabled: true, Host: host, Port: port}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), redisConfig(t, mr))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)
	mr.Close()

	_, err := NewClient(context.Background(), cfg)
	require.Error(t, err)
}

func TestInitRedis_Disabled(t *testing.T) {
	assert.Nil(t, InitRedis(&config.RedisConfig{Enabled: false}))
}
