package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		s := NewNoopServerMetrics()
		s.RecordConnectionAccepted()
		s.RecordConnectionClosed()
		s.RecordConnectionForceClosed()
		s.SetActiveConnections(3)
		s.RecordAcceptError()
		s.RecordPacketHandled(time.Millisecond, 1)
		s.RecordBytes(DirectionIn, 10)
		s.RecordWorkersReclaimed(2)

		c := NewNoopClientMetrics()
		c.RecordConnect(errors.New("refused"))
		c.RecordDisconnect(true)
		c.RecordPacketReceived(10)
		c.RecordPacketSent(14, nil)
		c.RecordParse(time.Millisecond, nil)
		c.SetParsersInFlight(1)
	})
}

// TestServerEndpoints runs the disabled and enabled cases in order because
// InitRegistry can only be called once per process.
func TestServerEndpoints(t *testing.T) {
	t.Run("DisabledReturns503", func(t *testing.T) {
		require.False(t, IsEnabled())

		srv := NewServer(ServerConfig{Port: 0})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "disabled")
	})

	t.Run("EnabledServesRegistry", func(t *testing.T) {
		InitRegistry()
		InitRegistry()
		require.True(t, IsEnabled())

		srv := NewServer(ServerConfig{Port: 0})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
		assert.Contains(t, rec.Body.String(), Namespace+"_process_start_time_seconds")
	})

	t.Run("Healthz", func(t *testing.T) {
		srv := NewServer(ServerConfig{})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, "ok\n", rec.Body.String())
	})
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Port() != 0 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", srv.Port()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	assert.NoError(t, srv.Stop(context.Background()), "second stop is a no-op")
}
