package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level should be rejected")
	}

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log format should be rejected")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown trace exporter should be rejected")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("out of range sampling rate should be rejected")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		if _, err := NewLogger(LoggingConfig{Level: level, Format: "json", Output: "stderr"}); err != nil {
			t.Errorf("NewLogger(%s): %v", level, err)
		}
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var mu sync.Mutex
	received := []Event{}
	ep.Subscribe(func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	}, FilterByType(EventTypeDriftDetected))

	if err := ep.PublishDriftDetected("web", "missing ingress tcp/443"); err != nil {
		t.Fatalf("PublishDriftDetected: %v", err)
	}
	if err := ep.PublishRunStarted("run-1", "staging", false); err != nil {
		t.Fatalf("PublishRunStarted: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("filter should pass only drift events, got %d", len(received))
	}
	if received[0].Resource != "web" || received[0].ID == "" {
		t.Errorf("unexpected event: %+v", received[0])
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	if err := ep.PublishRunFailed("run-1", "boom"); err != nil {
		t.Errorf("publishing on a disabled publisher should be a no-op, got %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestFilterByLevel(t *testing.T) {
	filter := FilterByLevel(EventLevelWarning)
	if filter(Event{Level: EventLevelInfo}) {
		t.Error("info should be filtered below warning")
	}
	if !filter(Event{Level: EventLevelError}) {
		t.Error("error should pass a warning filter")
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "reconcile")
	if ic.Ctx == nil || ic.Logger == nil || ic.Timer == nil {
		t.Fatalf("operation context incomplete: %+v", ic)
	}
	// End is a no-op when no span was started.
	ic.End(nil)
}

func TestStartOperationWithTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Events.Enabled = false

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ic := StartOperation(tel.WithContext(context.Background()), "reconcile")
	if ic.Span == nil {
		t.Fatal("expected a span when telemetry is attached")
	}
	ic.End(nil)
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	if timer.Duration() <= 0 {
		t.Error("timer should measure elapsed time")
	}
}
