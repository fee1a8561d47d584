package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler collects log records so tests can wait for the detached
// dispatch goroutine deterministically.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
	notify  chan struct{}
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{notify: make(chan struct{}, 16)}
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	h.notify <- struct{}{}
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(name string) slog.Handler       { return h }

func (h *captureHandler) waitForRecord(t *testing.T) slog.Record {
	t.Helper()
	select {
	case <-h.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log record")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[len(h.records)-1]
}

func TestDispatch(t *testing.T) {
	t.Run("runs the sink detached", func(t *testing.T) {
		done := make(chan struct{})
		Dispatch(slog.New(newCaptureHandler()), "test", func() error {
			close(done)
			return nil
		})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("sink never ran")
		}
	})

	t.Run("sink errors are logged, not propagated", func(t *testing.T) {
		h := newCaptureHandler()
		Dispatch(slog.New(h), "flaky", func() error {
			return errors.New("sink unavailable")
		})

		rec := h.waitForRecord(t)
		if rec.Level != slog.LevelWarn {
			t.Errorf("level = %v, expected warn", rec.Level)
		}
		if rec.Message != "notification sink failed" {
			t.Errorf("message = %q", rec.Message)
		}
	})

	t.Run("sink panics are recovered and logged", func(t *testing.T) {
		h := newCaptureHandler()
		Dispatch(slog.New(h), "broken", func() error {
			panic("sink bug")
		})

		rec := h.waitForRecord(t)
		if rec.Level != slog.LevelError {
			t.Errorf("level = %v, expected error", rec.Level)
		}
		if rec.Message != "notification sink panicked" {
			t.Errorf("message = %q", rec.Message)
		}
	})
}

func TestLogSink(t *testing.T) {
	h := newCaptureHandler()
	sink := &LogSink{Logger: slog.New(h)}

	if err := sink.NodeCreated(context.Background(), "s1", Node{ID: "n1", Type: "turn"}); err != nil {
		t.Errorf("NodeCreated: %v", err)
	}
	if err := sink.TurnFinalized(context.Background(), TurnSummary{TurnID: "t1", SessionID: "s1"}); err != nil {
		t.Errorf("TurnFinalized: %v", err)
	}
}
