package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloads(t *testing.T) {
	path := writeConfig(t, testConfig)

	w, err := NewWatcher(path, Load, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("[led]\nramp_coefficient = 0.5\nmillis_step = 40\n"), 0o644))

	select {
	case s := <-w.Reloads():
		assert.Equal(t, 0.5, s.RampCoefficient)
		assert.Equal(t, 40, s.MillisStep)
		assert.Equal(t, 3000.0, s.TransitionMs)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after writing the config")
	}
}

func TestWatcherSkipsInvalid(t *testing.T) {
	path := writeConfig(t, testConfig)

	w, err := NewWatcher(path, Load, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("[led]\nmillis_step = 0\n"), 0o644))

	select {
	case s := <-w.Reloads():
		t.Fatalf("unexpected reload: %+v", s)
	case <-time.After(300 * time.Millisecond):
	}
}
