package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	notified := make(chan struct{}, 16)
	w, err := NewWatcher(dir, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.lua"), []byte("return 1"), 0600))

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the write")
	}
}

func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	notified := make(chan struct{}, 16)
	w, err := NewWatcher(dir, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sub := filepath.Join(dir, "a")
	require.NoError(t, os.Mkdir(sub, 0750))

	// drain the mkdir notification, then prove the new directory is watched
	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the new directory")
	}

	require.Eventually(t, func() bool {
		name := filepath.Join(sub, "y.lua")
		if err := os.WriteFile(name, []byte("return 2"), 0600); err != nil {
			return false
		}
		select {
		case <-notified:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), func() {})
	require.Error(t, err)
}
