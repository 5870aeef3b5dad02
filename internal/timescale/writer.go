// Package timescale optionally mirrors price samples and order submissions
// into a TimescaleDB/Postgres database. Writes are queued and dropped when
// the queue is full; nothing in the bot reads them back.
package timescale

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type PriceSample struct {
	Time      time.Time
	TokenID   string
	AccountID string
	Price     float64
	Volume24h float64
	Change24h float64
}

type OrderEvent struct {
	Time       time.Time
	AccountID  string
	StrategyID string
	OrderID    string
	TokenID    string
	Side       string
	Price      float64
	Size       float64
	OrderType  string
	Status     string
	Error      string
}

// Writer methods are safe on a nil receiver so callers can hold a disabled
// writer without checks.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	prices    chan PriceSample
	orders    chan OrderEvent
	started   atomic.Bool
	dropPrice atomic.Uint64
	dropOrder atomic.Uint64
}

// New returns nil, nil when disabled.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errs.Config("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		prices: make(chan PriceSample, queueSize),
		orders: make(chan OrderEvent, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueuePrice(sample PriceSample) {
	if w == nil {
		return
	}
	select {
	case w.prices <- sample:
	default:
		if w.dropPrice.Add(1) == 1 {
			w.log.Warn("timescale price queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
	default:
		if w.dropOrder.Add(1) == 1 {
			w.log.Warn("timescale order queue full")
		}
	}
}

// Dropped reports how many price samples and order events were discarded.
func (w *Writer) Dropped() (prices, orders uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropPrice.Load(), w.dropOrder.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-w.prices:
			w.writePrice(ctx, sample)
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errs.Config("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		token_id TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL,
		volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		change_24h DOUBLE PRECISION NOT NULL DEFAULT 0
	)`, w.table("price_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		account_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		token_id TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		order_type TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("order_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"price_samples", "order_events"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writePrice(ctx context.Context, sample PriceSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, token_id, account_id, price, volume_24h, change_24h
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("price_samples"))
	if _, err := w.db.ExecContext(ctx, query,
		sample.Time,
		sample.TokenID,
		sample.AccountID,
		sample.Price,
		sample.Volume24h,
		sample.Change24h,
	); err != nil {
		w.log.Warn("timescale price insert failed", zap.String("token_id", sample.TokenID), zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, account_id, strategy_id, order_id, token_id, side, price, size, order_type, status, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("order_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.AccountID,
		event.StrategyID,
		event.OrderID,
		event.TokenID,
		event.Side,
		event.Price,
		event.Size,
		event.OrderType,
		event.Status,
		event.Error,
	); err != nil {
		w.log.Warn("timescale order insert failed", zap.String("account_id", event.AccountID), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
