package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "server:\n  upstream: http://one\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, "http://one", w.Current().Server.Upstream)
	updates := w.Subscribe()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  upstream: http://two\n"), 0o644))

	select {
	case cfg := <-updates:
		assert.Equal(t, "http://two", cfg.Server.Upstream)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
	assert.Equal(t, "http://two", w.Current().Server.Upstream)
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  upstream: http://good\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	updates := w.Subscribe()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))

	select {
	case cfg := <-updates:
		t.Fatalf("invalid config must not be published, got %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, "http://good", w.Current().Server.Upstream)
}

func TestWatcher_InitialLoadMustSucceed(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")

	_, err := NewWatcher(path, nil)
	assert.Error(t, err)
}

func TestWatcher_CloseClosesSubscribers(t *testing.T) {
	w, err := NewWatcher(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)
	updates := w.Subscribe()

	require.NoError(t, w.Close())

	_, open := <-updates
	assert.False(t, open)
}
