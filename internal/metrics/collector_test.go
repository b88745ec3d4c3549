package metrics

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"contactbot/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestCounterReuse(t *testing.T) {
	c := NewCollector()
	c.Counter("x_total", "x", "").Inc()
	c.Counter("x_total", "x", "").Add(2)
	if v := c.Counter("x_total", "x", "").Value(); v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}

func TestRender(t *testing.T) {
	c := NewCollector()
	c.Counter("a_total", "A things", `k="v"`).Inc()
	c.Gauge("b_live", "B live", "").Set(4)
	h := c.Histogram("c_seconds", "C latency", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)

	out := c.Render()
	for _, want := range []string{
		"# TYPE a_total counter",
		`a_total{k="v"} 1`,
		"b_live 4",
		`c_seconds_bucket{le="0.5"} 1`,
		`c_seconds_bucket{le="1"} 2`,
		"c_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSubscribeCountsEvents(t *testing.T) {
	c := NewCollector()
	events := bus.NewEventBus(testLogger())
	c.Subscribe(events)

	events.Emit(bus.Event{Type: bus.EventSMSSent})
	events.Emit(bus.Event{Type: bus.EventSMSSent})
	events.Emit(bus.Event{Type: bus.EventSMSFailed})

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `contactbot_events_total{type="sms.sent"} 2`) {
		t.Errorf("sent count missing:\n%s", body)
	}
	if !strings.Contains(body, `contactbot_events_total{type="sms.failed"} 1`) {
		t.Errorf("failed count missing:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
}
