package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fpt/framebridge/internal/bridge"
)

type fakeDispatcher struct {
	actions []string
	resp    map[string]bridge.Response
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req bridge.Request) bridge.Response {
	f.actions = append(f.actions, req.Action)
	if r, ok := f.resp[req.Action]; ok {
		return r
	}
	return bridge.Response{Success: false, Message: "unknown command"}
}

func (f *fakeDispatcher) Status() bridge.Status {
	return bridge.Status{IframeFound: true, Enabled: true, HiddenCount: 12, WorkerScriptURL: "https://cdn.example.com/w.js"}
}

func newFake() *fakeDispatcher {
	enabled := true
	notFound := false
	hidden, total := 3, 15
	return &fakeDispatcher{resp: map[string]bridge.Response{
		bridge.ActionGetStats: {Success: true, Stats: json.RawMessage(`{"hiddenCount":15}`), Enabled: &enabled},
		bridge.ActionToggle:   {Success: true, Enabled: &enabled},
		bridge.ActionHideNow:  {Success: true, Hidden: &hidden, Total: &total},
		bridge.ActionGetDebugInfo: {Success: true, DebugInfo: &bridge.DebugInfo{
			IframeFound: true, IframeID: "deal-frame", Injection: bridge.InjectionScript,
		}},
		bridge.ActionRediscover: {Success: false, Message: "iframe not found", IframeFound: &notFound},
	}}
}

func TestSlashCommandsDispatch(t *testing.T) {
	tests := []struct {
		line   string
		action string
		want   string
	}{
		{"/stats", bridge.ActionGetStats, `{"hiddenCount":15}`},
		{"/toggle", bridge.ActionToggle, "Cleaner enabled: yes"},
		{"/hide", bridge.ActionHideNow, "Hidden now: 3, total: 15"},
		{"/debug", bridge.ActionGetDebugInfo, `"iframeId": "deal-frame"`},
		{"/rediscover", bridge.ActionRediscover, "rediscover failed: iframe not found"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d := newFake()
			var out bytes.Buffer
			c := NewConsole(context.Background(), d, &out)

			if c.HandleLine(tt.line) {
				t.Fatal("command must not exit")
			}
			if len(d.actions) != 1 || d.actions[0] != tt.action {
				t.Fatalf("dispatched %v, want %s", d.actions, tt.action)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}

func TestStatusAndUnknownCommands(t *testing.T) {
	d := newFake()
	var out bytes.Buffer
	c := NewConsole(context.Background(), d, &out)

	c.HandleLine("/status")
	if !strings.Contains(out.String(), "Hidden count: 12") {
		t.Errorf("status output: %q", out.String())
	}

	out.Reset()
	c.HandleLine("/bogus")
	if !strings.Contains(out.String(), "Unknown command: /bogus") {
		t.Errorf("unknown output: %q", out.String())
	}

	out.Reset()
	c.HandleLine("stats please")
	if !strings.Contains(out.String(), "Commands start with '/'") {
		t.Errorf("plain text output: %q", out.String())
	}
	if len(d.actions) != 0 {
		t.Errorf("nothing should be dispatched, got %v", d.actions)
	}
}

func TestRunScriptStopsAtQuit(t *testing.T) {
	d := newFake()
	var out bytes.Buffer
	c := NewConsole(context.Background(), d, &out)

	script := "# comment\n/toggle\n\n/hide\n/quit\n/stats\n"
	if err := c.RunScript(strings.NewReader(script)); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	want := []string{bridge.ActionToggle, bridge.ActionHideNow}
	if len(d.actions) != len(want) || d.actions[0] != want[0] || d.actions[1] != want[1] {
		t.Errorf("dispatched %v, want %v", d.actions, want)
	}
	if !strings.Contains(out.String(), "Goodbye") {
		t.Error("expected goodbye message")
	}
}

func TestRunScriptCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsole(ctx, newFake(), &bytes.Buffer{})
	if err := c.RunScript(strings.NewReader("/toggle\n")); err == nil {
		t.Fatal("expected context error")
	}
}
