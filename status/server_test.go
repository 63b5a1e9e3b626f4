package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pushover "github.com/pushctl/pushover-agent"
)

type staticSource pushover.Snapshot

func (s staticSource) Snapshot() pushover.Snapshot { return pushover.Snapshot(s) }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		state    pushover.ChannelState
		wantCode int
		wantMsg  string
	}{
		{pushover.Listening, http.StatusOK, "ok"},
		{pushover.AwaitingAuth, http.StatusServiceUnavailable, "not listening"},
		{pushover.Closed, http.StatusServiceUnavailable, "not listening"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			router := NewRouter(staticSource{State: tt.state})
			rec, body := get(t, router, "/healthz")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, float64(tt.wantCode), body["code"])
			assert.Equal(t, tt.wantMsg, body["msg"])
			assert.Equal(t, tt.state.String(), body["data"].(map[string]any)["state"])
		})
	}
}

func TestStatus(t *testing.T) {
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	router := NewRouter(staticSource{
		State:        pushover.Listening,
		Decision:     pushover.Reconnect,
		Runs:         3,
		DeviceID:     "dev123",
		Titles:       []string{"heyu"},
		LastSync:     last,
		Dispatched:   12,
		Acknowledged: 99,
	})

	rec, body := get(t, router, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "listening", data["state"])
	assert.Equal(t, "reconnect", data["last_decision"])
	assert.Equal(t, float64(3), data["runs"])
	assert.Equal(t, "dev123", data["device_id"])
	assert.Equal(t, []any{"heyu"}, data["titles"])
	assert.Equal(t, "2026-01-02T03:04:05Z", data["last_sync"])
	assert.Equal(t, float64(12), data["dispatched"])
	assert.Equal(t, float64(99), data["acknowledged_id"])
}

func TestUnknownRoute(t *testing.T) {
	router := NewRouter(staticSource{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := NewServer(addr, staticSource{State: pushover.Listening}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(ln.Addr().String(), staticSource{}, zerolog.Nop())
	assert.Error(t, srv.Run(context.Background()))
}
