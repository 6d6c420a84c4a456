package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"tailscale.com/ipn/ipnstate"
)

func shortReadyPoll(t *testing.T) {
	t.Helper()
	orig := readyPollInterval
	readyPollInterval = time.Millisecond
	t.Cleanup(func() { readyPollInterval = orig })
}

func TestCheckTailscaleReady(t *testing.T) {
	shortReadyPoll(t)

	t.Run("running", func(t *testing.T) {
		err := checkTailscaleReady(context.Background(), &MockTailscaleClient{}, newTestLogger())
		assert.NoError(t, err)
	})

	t.Run("stopped", func(t *testing.T) {
		lc := &MockTailscaleClient{
			StatusFunc: func(context.Context) (*ipnstate.Status, error) {
				return &ipnstate.Status{BackendState: "Stopped"}, nil
			},
		}
		assert.NoError(t, checkTailscaleReady(context.Background(), lc, newTestLogger()))
	})

	t.Run("waits through login", func(t *testing.T) {
		var calls atomic.Int32
		states := []string{"NoState", "NeedsLogin", "NeedsMachineAuth", "Starting", "Running"}
		lc := &MockTailscaleClient{
			StatusFunc: func(context.Context) (*ipnstate.Status, error) {
				n := int(calls.Add(1)) - 1
				return &ipnstate.Status{
					BackendState: states[min(n, len(states)-1)],
					AuthURL:      "https://login.tailscale.com/a/abc",
				}, nil
			},
		}

		require.NoError(t, checkTailscaleReady(context.Background(), lc, newTestLogger()))
		// four waiting states, then Running twice: Status and StatusWithoutPeers
		assert.Equal(t, int32(6), calls.Load())
	})

	t.Run("status error", func(t *testing.T) {
		lc := &MockTailscaleClient{
			StatusFunc: func(context.Context) (*ipnstate.Status, error) {
				return nil, errors.New("no daemon")
			},
		}
		err := checkTailscaleReady(context.Background(), lc, newTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error retrieving tailscale status")
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		lc := &MockTailscaleClient{
			StatusFunc: func(context.Context) (*ipnstate.Status, error) {
				return &ipnstate.Status{BackendState: "NeedsLogin"}, nil
			},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := checkTailscaleReady(ctx, lc, newTestLogger())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewUserpageServiceDefaultsConfig(t *testing.T) {
	svc := NewUserpageService(&MockTailscaleClient{}, newTestLogger(), mockPinger{}, &MockQueries{},
		nil, nil, nil, nil, nil, "", "v1", "abc")

	require.NotNil(t, svc.config)
	assert.Equal(t, MaxUserpageLength, svc.config.MaxUserpageLength)
	assert.Equal(t, "v1", svc.version)
}

func TestNewTsNetServer(t *testing.T) {
	s := NewTsNetServer("/var/lib/userpages", "userpages")

	assert.Equal(t, filepath.Join("/var/lib/userpages", "tsnet"), s.Dir)
	assert.Equal(t, "userpages", s.Hostname)
	assert.NotNil(t, s.Logf)
}

func TestNewQuerier(t *testing.T) {
	q := newQuerier(nil, nil)
	_, traced := q.(*TracedQueriesWrapper)
	assert.False(t, traced)

	q = newQuerier(nil, &TelemetryConfig{Tracer: noop.NewTracerProvider().Tracer("test")})
	_, traced = q.(*TracedQueriesWrapper)
	assert.True(t, traced)
}
