package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	}
	d.Close()

	got := 0
	for {
		select {
		case <-sink.Events():
			got++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	if got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if d.Dropped() != 0 {
		t.Fatalf("emit after close must not count as dropped, got %d", d.Dropped())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
}

func TestSlogSinkWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	NewSlogSink(logger).Emit(context.Background(), Event{
		EventType: "login_failure",
		AccountID: "acct-1",
		Email:     "a@b.c",
		Error:     "invalid credentials",
		Metadata:  map[string]string{"reason": "password"},
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line failed: %v", err)
	}
	if rec["level"] != "WARN" {
		t.Fatalf("expected WARN for failure, got %v", rec["level"])
	}
	group, ok := rec["audit"].(map[string]any)
	if !ok {
		t.Fatalf("expected audit group, got %v", rec)
	}
	if group["event"] != "login_failure" || group["account_id"] != "acct-1" {
		t.Fatalf("unexpected audit attrs: %v", group)
	}
	meta, _ := group["meta"].(map[string]any)
	if meta["reason"] != "password" {
		t.Fatalf("expected metadata group, got %v", group["meta"])
	}
}

// flakySink panics on events of one type and forwards the rest.
type flakySink struct {
	bad  string
	next *ChannelSink
}

func (s flakySink) Emit(ctx context.Context, ev Event) {
	if ev.EventType == s.bad {
		panic("sink exploded")
	}
	s.next.Emit(ctx, ev)
}

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	next := NewChannelSink(4)
	var logs bytes.Buffer
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 4,
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
	}, flakySink{bad: "otp_verify", next: next})

	d.Emit(context.Background(), Event{EventType: "otp_verify"})
	d.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	d.Close()

	select {
	case ev := <-next.Events():
		if ev.EventType != "login_success" {
			t.Fatalf("unexpected event %q", ev.EventType)
		}
	default:
		t.Fatal("event after the panic was not delivered")
	}
	if d.SinkPanics() != 1 {
		t.Fatalf("SinkPanics = %d, want 1", d.SinkPanics())
	}
	if !bytes.Contains(logs.Bytes(), []byte("audit sink panicked")) {
		t.Fatalf("panic not logged: %s", logs.String())
	}
}

// blockingSink holds delivery until release is closed.
type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestFullQueueDropsAndLogs(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	var logs bytes.Buffer
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
	}, sink)

	// One event sits in the sink, at most one in the queue; the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	close(sink.release)
	d.Close()

	if d.Dropped() < 8 {
		t.Fatalf("Dropped = %d, want at least 8", d.Dropped())
	}
	if bytes.Count(logs.Bytes(), []byte("audit queue full")) != 1 {
		t.Fatalf("expected one throttled drop warning, got: %s", logs.String())
	}
}

// slowSink takes a fixed time per event.
type slowSink struct {
	delay time.Duration
}

func (s slowSink) Emit(context.Context, Event) { time.Sleep(s.delay) }

func TestCloseGivesUpAfterDrainTimeout(t *testing.T) {
	var logs bytes.Buffer
	d := NewDispatcher(Config{
		Enabled:      true,
		BufferSize:   16,
		DrainTimeout: 20 * time.Millisecond,
		Logger:       slog.New(slog.NewJSONHandler(&logs, nil)),
	}, slowSink{delay: 30 * time.Millisecond})

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "mfa_failure"})
	}
	start := time.Now()
	d.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close took %v", elapsed)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected queued events to be abandoned")
	}
	if !bytes.Contains(logs.Bytes(), []byte("abandoned at shutdown")) {
		t.Fatalf("abandon not logged: %s", logs.String())
	}
	d.Close()
}
