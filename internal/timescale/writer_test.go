package timescale

import (
	"errors"
	"testing"
	"time"

	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer and nil error, got %v %v", w, err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop())
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Start(t.Context())
	w.EnqueuePrice(PriceSample{TokenID: "tok"})
	w.EnqueueOrder(OrderEvent{AccountID: "acc"})
	if p, o := w.Dropped(); p != 0 || o != 0 {
		t.Fatalf("expected no drops, got %d %d", p, o)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "", 2, zap.NewNop())
	if w.schema != "public" {
		t.Fatalf("expected default schema, got %s", w.schema)
	}
	for i := 0; i < 5; i++ {
		w.EnqueuePrice(PriceSample{Time: time.Now(), TokenID: "tok", Price: 0.5})
	}
	w.EnqueueOrder(OrderEvent{AccountID: "acc"})
	prices, orders := w.Dropped()
	if prices != 3 || orders != 0 {
		t.Fatalf("expected 3 dropped prices and 0 orders, got %d %d", prices, orders)
	}
	if w.table("order_events") != "public.order_events" {
		t.Fatalf("unexpected table name %s", w.table("order_events"))
	}
}
