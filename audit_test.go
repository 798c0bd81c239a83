package clockauth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestAuditEventsReachSink(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	d.Emit(context.Background(), AuditEvent{Action: auditLoginSuccess, Subject: "u1", Success: true})
	d.Close()

	select {
	case ev := <-sink.Events():
		if ev.Action != auditLoginSuccess || ev.Subject != "u1" || !ev.Success {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event never reached sink")
	}
}

func TestAuditDisabledDispatcherIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled audit must not start a dispatcher")
	}
	// Nil receivers are safe.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher dropped count")
	}
}

func TestAuditDropsWhenFull(t *testing.T) {
	// A sink that blocks until released, so the buffer can fill up.
	release := make(chan struct{})
	sink := blockingSink{release: release}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{Action: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	close(release)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{Action: auditLogout, Subject: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{Action: auditLoginFailure, Email: "a@b.c"})

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("want 2 lines, got %d", lines)
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(64)
	h := newTestEngine(t, func(cfg *Config) {
		cfg.Audit = AuditConfig{Enabled: true, BufferSize: 64, DropIfFull: true}
	})
	// Swap the sink in before any events flow.
	h.engine.audit.Close()
	h.engine.audit = newAuditDispatcher(h.engine.config.Audit, sink)

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	mustSignup(t, h, "ada@example.com", testPassword)
	_, _ = h.engine.Login(ctx, "ada@example.com", "wrong")
	h.engine.audit.Close()

	actions := map[string]AuditEvent{}
	for {
		select {
		case ev := <-sink.Events():
			actions[ev.Action] = ev
			continue
		default:
		}
		break
	}

	if _, ok := actions[auditSignupSuccess]; !ok {
		t.Fatalf("missing signup event: %v", actions)
	}
	failure, ok := actions[auditLoginFailure]
	if !ok {
		t.Fatalf("missing login failure event: %v", actions)
	}
	if failure.Success || failure.Error == "" {
		t.Fatalf("failure event malformed: %+v", failure)
	}
	if failure.IP != "203.0.113.7" {
		t.Fatalf("client IP not propagated: %+v", failure)
	}
}
