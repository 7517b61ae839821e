package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  enable_hr_protection: true\n"), 0o644))

	p := newTestParser(t)
	st := NewStore(nil)
	w := NewWatcher(path, p, st, zerolog.Nop())
	w.debounce = 50 * time.Millisecond

	reloaded := make(chan error, 8)
	w.onReload = func(err error) { reloaded <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("global:\n  enable_hr_protection: false\n"), 0o644))
	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after write")
	}
	assert.False(t, st.Snapshot().Global.EnableHRProtection)

	drain(reloaded)

	// An invalid file keeps the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte("global:\n  mode: reckless\n"), 0o644))
	select {
	case err := <-reloaded:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after invalid write")
	}
	assert.False(t, st.Snapshot().Global.EnableHRProtection)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherReloadDirect(t *testing.T) {
	p := newTestParser(t)
	st := NewStore(nil)
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), p, st, zerolog.Nop())

	before := st.Snapshot()
	assert.Error(t, w.Reload())
	assert.Same(t, before, st.Snapshot())
}

func drain(ch chan error) {
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
