package middleware_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/core/middleware"
	"github.com/miladsoleymani/ackmux/internal/mock"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	zc, logs := observer.New(zapcore.DebugLevel)
	return zap.New(zc), logs
}

func TestLogging(t *testing.T) {
	logger, logs := observed()
	handler := middleware.Logging(logger)(func(c core.Context) error {
		return nil
	})

	c := mock.NewContext(&mock.Message{T: "orders", Off: 3, K: []byte("test-key"), V: []byte("val")})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := logs.FilterMessage("Delivery handled").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["key"] != "test-key" || fields["topic"] != "orders" || fields["offset"] != int64(3) {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestLogging_Error(t *testing.T) {
	logger, logs := observed()
	handler := middleware.Logging(logger)(func(c core.Context) error {
		return errors.New("boom")
	})

	c := mock.NewContext(&mock.Message{T: "orders", K: []byte("k"), V: []byte("v")})
	if err := handler(c); err == nil {
		t.Fatal("expected the handler error to be returned")
	}

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(entries) != 1 {
		t.Fatalf("got %d error entries, want 1", len(entries))
	}
	if entries[0].ContextMap()["error"] != "boom" {
		t.Errorf("unexpected fields: %v", entries[0].ContextMap())
	}
}

func TestRecovery(t *testing.T) {
	logger, logs := observed()
	handler := middleware.Recovery(logger)(func(c core.Context) error {
		panic("test panic")
	})

	err := handler(mock.NewContext(&mock.Message{T: "orders"}))
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if !strings.Contains(err.Error(), "panic recovered") {
		t.Errorf("unexpected error: %v", err)
	}
	if logs.FilterMessage("Panic recovered in handler").Len() != 1 {
		t.Error("panic was not logged")
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := middleware.Recovery(nil)(func(c core.Context) error {
		return nil
	})

	if err := handler(mock.NewContext(&mock.Message{T: "orders"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type collector struct {
	topic   string
	records int
	err     error
}

func (c *collector) DeliveryHandled(topic string, records int, _ time.Duration, err error) {
	c.topic, c.records, c.err = topic, records, err
}

func TestMetrics(t *testing.T) {
	col := &collector{}
	boom := errors.New("boom")
	handler := middleware.Metrics(col)(func(c core.Context) error {
		return boom
	})

	c := mock.NewContext(mock.Record("orders", 0, 1, ""), mock.Record("orders", 0, 2, ""))
	if err := handler(c); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if col.topic != "orders" || col.records != 2 || !errors.Is(col.err, boom) {
		t.Errorf("collector = %+v", col)
	}
}
