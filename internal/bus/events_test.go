package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_TypedAndWildcard(t *testing.T) {
	eb := NewEventBus(testLogger())

	var order []string
	eb.On("*", func(e Event) { order = append(order, "wild:"+e.Type) })
	eb.On(EventSMSSent, func(e Event) { order = append(order, "typed:"+e.Type) })

	eb.Emit(Event{Type: EventSMSSent})
	eb.Emit(Event{Type: EventSMSFailed})

	want := []string{"typed:sms.sent", "wild:sms.sent", "wild:sms.failed"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	count := 0
	first := eb.On(EventShutdownStep, func(Event) { count++ })
	eb.On(EventShutdownStep, func(Event) { count += 10 })

	eb.Emit(Event{Type: EventShutdownStep})
	eb.Off(EventShutdownStep, first)
	eb.Emit(Event{Type: EventShutdownStep})

	if count != 21 {
		t.Errorf("expected 21, got %d", count)
	}
}

func TestEventBus_ReplayFiltersAndBounds(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 3

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventSMSSent})
	eb.Emit(Event{Type: EventSMSInbound})
	eb.Emit(Event{Type: EventSMSSent})

	if got := eb.Replay("*", time.Time{}); len(got) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(got))
	}
	if got := eb.Replay(EventSMSSent, threshold); len(got) != 2 {
		t.Fatalf("expected 2 sms.sent events, got %d", len(got))
	}
	if got := eb.Replay("*", threshold); got[0].Timestamp.IsZero() {
		t.Error("timestamp should be set on emit")
	}
}

func TestEventBus_HandlerPanicIsContained(t *testing.T) {
	eb := NewEventBus(testLogger())

	reached := false
	eb.On(EventDaemonExited, func(Event) { panic("boom") })
	eb.On(EventDaemonExited, func(Event) { reached = true })

	eb.Emit(Event{Type: EventDaemonExited})
	if !reached {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: EventSMSSent})
}
