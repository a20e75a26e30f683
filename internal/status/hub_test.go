package status_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxlog/internal/status"
)

func recv(t *testing.T, sub *status.Subscription) status.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return status.Event{}
	}
}

func TestSubscribe_ReceivesCurrentFirst(t *testing.T) {
	t.Parallel()

	h := status.NewHub()
	h.Publish(status.Event{Kind: status.KindState, State: "monitoring", Message: "started monitoring"})

	sub := h.Subscribe()
	defer sub.Close()
	ev := recv(t, sub)
	if ev.State != "monitoring" || ev.Message != "started monitoring" {
		t.Errorf("first event = %+v, want current state", ev)
	}
	if ev.At.IsZero() {
		t.Error("event has no timestamp")
	}
}

func TestPublish_FanOut(t *testing.T) {
	t.Parallel()

	h := status.NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	defer a.Close()
	defer b.Close()
	recv(t, a)
	recv(t, b)

	h.Publish(status.Event{Kind: status.KindTranscription, RecordingID: 7, Text: "met at 3pm"})
	for _, s := range []*status.Subscription{a, b} {
		ev := recv(t, s)
		if ev.Kind != status.KindTranscription || ev.RecordingID != 7 {
			t.Errorf("event = %+v", ev)
		}
	}
	if got := h.Current().State; got != "idle" {
		t.Errorf("Current().State = %q, non-state events must not replace it", got)
	}
}

func TestPublish_SlowSubscriberDropsOldest(t *testing.T) {
	t.Parallel()

	h := status.NewHub(status.WithBuffer(2))
	sub := h.Subscribe() // queue: idle
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		h.Publish(status.Event{Kind: status.KindProgress, ElapsedMs: int64(i * 1000)})
	}
	if got := sub.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
	if ev := recv(t, sub); ev.ElapsedMs != 4000 {
		t.Errorf("first queued = %+v, want elapsed 4000", ev)
	}
	if ev := recv(t, sub); ev.ElapsedMs != 5000 {
		t.Errorf("second queued = %+v, want elapsed 5000", ev)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := status.NewHub()
	sub := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers())
	}
	sub.Close()
	sub.Close()
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Close, want 0", h.Subscribers())
	}
	recv(t, sub) // buffered current state
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}
	h.Publish(status.Event{Kind: status.KindState, State: "monitoring"})
}

func TestHandler_StreamsEvents(t *testing.T) {
	t.Parallel()

	h := status.NewHub()
	srv := httptest.NewServer(status.Handler(h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	var ev status.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if ev.State != "idle" {
		t.Errorf("first frame = %+v, want idle", ev)
	}

	for h.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	h.Publish(status.Event{Kind: status.KindState, State: "recording", Message: "started recording"})
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if ev.State != "recording" || ev.Message != "started recording" {
		t.Errorf("second frame = %+v", ev)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Subscribers() != 0 {
		t.Error("subscription not released after client closed")
	}
}
