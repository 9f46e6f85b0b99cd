package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func setRedisEnv(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("BACKEND_URL", "redis://"+mr.Addr())
	t.Setenv("CACHE_DISABLED", "false")
	t.Setenv("CACHE_PREFIX", "voice")
	t.Setenv("LOG_LEVEL", "error")
	return mr
}

func TestCacheHealthCommand(t *testing.T) {
	setRedisEnv(t)

	out, err := runCLI(t, "cache", "health")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "HEALTHY", got["state"])
	assert.Equal(t, "remote", got["backend"])
	assert.Equal(t, true, got["connected"])
}

func TestCachePurgeCommand(t *testing.T) {
	mr := setRedisEnv(t)
	require.NoError(t, mr.Set("voice:conversations:u1:a", "x"))
	require.NoError(t, mr.Set("voice:conversations:u2:b", "x"))
	require.NoError(t, mr.Set("voice:speech:voices", "x"))
	mr.SetTTL("voice:speech:voices", time.Hour)

	out, err := runCLI(t, "cache", "purge", "conversations:*")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 keys")
	assert.True(t, mr.Exists("voice:speech:voices"))

	_, err = runCLI(t, "cache", "purge")
	assert.Error(t, err, "pattern argument is required")
}

func TestCacheFlushCommand(t *testing.T) {
	mr := setRedisEnv(t)
	require.NoError(t, mr.Set("voice:k", "x"))
	require.NoError(t, mr.Set("other:k", "x"))

	out, err := runCLI(t, "cache", "flush")
	require.NoError(t, err)
	assert.Contains(t, out, "flushed")
	assert.False(t, mr.Exists("voice:k"))
	assert.True(t, mr.Exists("other:k"), "flush stays inside the prefix")
}

func TestCacheCommandNeedsBackendURL(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("CACHE_DISABLED", "false")

	_, err := runCLI(t, "cache", "health")
	assert.Error(t, err)
}
