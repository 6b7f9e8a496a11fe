package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/detector"
	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const (
	pageURL   = "https://crm.example.com/crm/deal/"
	dealSrc   = "/crm/deal/details/42/?IFRAME=Y&IFRAME_TYPE=SIDE_SLIDER"
	workerURL = "https://cdn.example.com/iframe-worker.js"

	hostEmpty      = `<html><body><div id="app"></div></body></html>`
	hostWithTarget = `<html><body><div id="app"></div><div class="side-panel-content-wrapper">
		<iframe class="side-panel-iframe" id="deal-frame" src="` + dealSrc + `"></iframe></div></body></html>`
	// The frame lacks the quick-lookup class; only a full search finds it.
	hostWithPlainFrame = `<html><body><div id="app"></div><div class="side-panel-content-wrapper">
		<iframe id="deal-frame" src="` + dealSrc + `"></iframe></div></body></html>`
)

type harness struct {
	page  *dom.Page
	frame *dom.Frame
	pipe  *channel.Pipe
	coord *Coordinator
}

func newHarness(t *testing.T, host string, mutate func(*Config)) *harness {
	t.Helper()

	page, err := dom.NewPage(pageURL)
	if err != nil {
		t.Fatal(err)
	}
	if err := page.LoadHTML(host); err != nil {
		t.Fatal(err)
	}
	frame, err := dom.NewFrameHTML(`<html><head></head><body><div class="deal">deal</div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	frame.SetReadyState(dom.ReadyStateComplete)
	if err := page.SetFrame(dealSrc, frame); err != nil {
		t.Fatal(err)
	}

	dcfg := detector.DefaultConfig()
	dcfg.ContainerPolicy = detector.MillisPolicy(2, 1)
	dcfg.TargetPolicy = detector.MillisPolicy(2, 1)
	dcfg.LoadPolicy = detector.MillisPolicy(2, 1)
	det, err := detector.New(dcfg, detector.WithLogger(pkgLogger.NewNopLogger()))
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.WorkerScriptURL = workerURL
	cfg.ReplyTimeout = 500 * time.Millisecond
	cfg.RecheckInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	pipe := channel.NewPipe(16)
	coord, err := New(cfg, page, det, pipe, WithLogger(pkgLogger.NewNopLogger()))
	if err != nil {
		t.Fatal(err)
	}
	return &harness{page: page, frame: frame, pipe: pipe, coord: coord}
}

// run starts the coordinator and stops it when the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// start runs the coordinator and waits for the init command.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.run(t)
	h.expectCommand(t, channel.CommandInit)
}

func (h *harness) expectCommand(t *testing.T, want channel.Command) channel.Outbound {
	t.Helper()
	select {
	case msg := <-h.pipe.Commands():
		if msg.Type != channel.TypeCommand || msg.Command != want {
			t.Fatalf("expected %s command, got %+v", want, msg)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s command", want)
	}
	return channel.Outbound{}
}

func (h *harness) expectNoCommand(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case msg := <-h.pipe.Commands():
		t.Fatalf("unexpected command %+v", msg)
	case <-time.After(within):
	}
}

func (h *harness) reply(t *testing.T, ev channel.Event, data any, requestID string) {
	t.Helper()
	msg, err := channel.NewEvent(ev, data)
	if err != nil {
		t.Fatal(err)
	}
	msg.RequestID = requestID
	if err := h.pipe.Reply(msg); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) dispatchAsync(action string) <-chan Response {
	out := make(chan Response, 1)
	go func() {
		out <- h.coord.Dispatch(context.Background(), Request{Action: action})
	}()
	return out
}

func waitResponse(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for response")
	}
	return Response{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitStartupMiss blocks until the startup search has failed, so later page
// changes can only be picked up by discovery.
func (h *harness) waitStartupMiss(t *testing.T) {
	t.Helper()
	waitFor(t, "startup search to fail", func() bool {
		info := h.coord.Dispatch(context.Background(), Request{Action: ActionGetDebugInfo}).DebugInfo
		return info.LastDetection != nil && info.LastDetection.Outcome == "not_found"
	})
}
