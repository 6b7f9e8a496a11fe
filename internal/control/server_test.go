package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fpt/framebridge/internal/bridge"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req bridge.Request) bridge.Response {
	f.mu.Lock()
	f.actions = append(f.actions, req.Action)
	f.mu.Unlock()

	switch req.Action {
	case bridge.ActionToggle:
		enabled := false
		return bridge.Response{Success: true, Enabled: &enabled}
	case bridge.ActionGetStats:
		found := false
		return bridge.Response{Success: false, Message: "iframe not found", IframeFound: &found}
	default:
		return bridge.Response{Success: false, Message: "unknown command"}
	}
}

func (f *fakeDispatcher) Status() bridge.Status {
	return bridge.Status{Enabled: true, HiddenCount: 4, WorkerScriptURL: "https://cdn.example.com/w.js"}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeDispatcher) {
	t.Helper()
	d := &fakeDispatcher{}
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "framebridge_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	channel := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer("127.0.0.1:0", d, channel, reg, pkgLogger.NewNopLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, d
}

func postCommand(t *testing.T, base, action string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(base+"/api/commands/"+action, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, body
}

func TestCommandEndpoint(t *testing.T) {
	srv, d := newTestServer(t)

	code, body := postCommand(t, srv.URL, bridge.ActionToggle)
	if code != http.StatusOK || body["success"] != true || body["enabled"] != false {
		t.Errorf("toggle: %d %v", code, body)
	}

	code, body = postCommand(t, srv.URL, bridge.ActionGetStats)
	if code != http.StatusOK || body["success"] != false || body["iframeFound"] != false || body["message"] != "iframe not found" {
		t.Errorf("getStats: %d %v", code, body)
	}

	code, body = postCommand(t, srv.URL, "explode")
	if code != http.StatusNotFound || body["message"] != "unknown command" {
		t.Errorf("unknown: %d %v", code, body)
	}

	if len(d.actions) != 3 {
		t.Errorf("expected 3 dispatches, got %v", d.actions)
	}
}

func TestCommandEndpointRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/commands/toggle")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStatusAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st bridge.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.IframeFound || !st.Enabled || st.HiddenCount != 4 {
		t.Errorf("unexpected status %+v", st)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", health.StatusCode)
	}
}

func TestMetricsAndChannelMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "framebridge_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", raw)
	}

	ch, err := http.Get(srv.URL + "/channel")
	if err != nil {
		t.Fatal(err)
	}
	ch.Body.Close()
	if ch.StatusCode != http.StatusTeapot {
		t.Errorf("channel status = %d", ch.StatusCode)
	}
}
