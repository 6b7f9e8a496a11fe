package channel

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

func TestInboundPayloads(t *testing.T) {
	stats, err := NewEvent(EventStats, StatsSnapshot{HiddenCount: 7})
	if err != nil {
		t.Fatal(err)
	}
	s, err := stats.Stats()
	if err != nil || s.HiddenCount != 7 {
		t.Fatalf("Stats() = %+v, %v", s, err)
	}

	empty := Inbound{Type: TypeFromEmbedded, Command: EventHideNowResult}
	r, err := empty.HideResult()
	if err != nil || r.Hidden != 0 {
		t.Errorf("missing payload should decode as zero, got %+v, %v", r, err)
	}

	bad := Inbound{Type: TypeFromEmbedded, Command: EventStats, Data: []byte(`"oops"`)}
	if _, err := bad.Stats(); err == nil {
		t.Error("expected decode error")
	}
}

func TestPipe(t *testing.T) {
	p := NewPipe(1)
	ctx := context.Background()

	if err := p.Post(ctx, NewCommand(CommandInit, "")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := p.Post(ctx, NewCommand(CommandEnable, "")); !errors.Is(err, ErrChannelFull) {
		t.Errorf("expected ErrChannelFull, got %v", err)
	}
	if got := <-p.Commands(); got.Command != CommandInit || got.Type != TypeCommand {
		t.Errorf("unexpected command %+v", got)
	}

	ev, _ := NewEvent(EventElementHidden, nil)
	if err := p.Reply(ev); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got := <-p.Inbound(); got.Command != EventElementHidden {
		t.Errorf("unexpected inbound %+v", got)
	}

	_ = p.Close()
	if err := p.Post(ctx, NewCommand(CommandInit, "")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHubRoundTrip(t *testing.T) {
	hub := NewHub(4, pkgLogger.NewNopLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx := context.Background()
	if err := hub.Post(ctx, NewCommand(CommandInit, "")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before dial, got %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("hub never saw the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Post(ctx, NewCommand(CommandGetStats, "req-1")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	var cmd Outbound
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("worker read: %v", err)
	}
	if cmd.Command != CommandGetStats || cmd.RequestID != "req-1" {
		t.Errorf("unexpected command %+v", cmd)
	}

	// foreign messages are dropped, embedded ones delivered
	if err := conn.WriteJSON(map[string]string{"type": "something-else"}); err != nil {
		t.Fatal(err)
	}
	reply, _ := NewEvent(EventStats, StatsSnapshot{HiddenCount: 3})
	reply.RequestID = "req-1"
	if err := conn.WriteJSON(reply); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-hub.Inbound():
		if got.Command != EventStats || got.RequestID != "req-1" {
			t.Errorf("unexpected inbound %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}
