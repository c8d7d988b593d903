package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONWriterSinkWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogin, AccountID: "a1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogout, AccountID: "a1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.EventType != AuditLogin || event.AccountID != "a1" {
		t.Errorf("unexpected event: %+v", event)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(sink)

	// One event occupies the sink; fill the buffer and then some.
	for i := 0; i < auditBufferSize+10; i++ {
		d.Emit(AuditEvent{EventType: AuditLogin})
	}

	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected dropped events")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherFlushesOnClose(t *testing.T) {
	sink := NewChannelSink(64)
	d := newAuditDispatcher(sink)

	for i := 0; i < 10; i++ {
		d.Emit(AuditEvent{EventType: AuditLogin})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
		default:
			if received != 10 {
				t.Fatalf("received %d events, want 10", received)
			}
			return
		}
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *auditDispatcher
	d.Emit(AuditEvent{EventType: AuditLogin})
	if d.Dropped() != 0 {
		t.Error("nil dispatcher dropped count")
	}
	d.Close()
}
