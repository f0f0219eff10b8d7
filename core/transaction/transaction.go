package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojolite/internal/telemetry"
)

// TransactionState is the state of the coordinator.
type TransactionState int

const (
	TxnStateIdle    TransactionState = iota // No transaction, the file lock is not held
	TxnStateRunning                         // A transaction (possibly nested) holds the file lock
)

func (s TransactionState) String() string {
	if s == TxnStateRunning {
		return "Running"
	}
	return "Idle"
}

// Storage is the data file as seen by the coordinator.
type Storage interface {
	memtable.PageWriter
	wal.RawWriter
	Lock(ctx context.Context) error
	Unlock() error
	ReadHeader() (*pagemanager.HeaderPage, error)
}

// Snapshotter writes the pages of a commit somewhere safe before the data
// file is touched. *wal.Journal implements it.
type Snapshotter interface {
	WriteSnapshot(pages []pagemanager.Page) error
	Delete() error
	Recover(w wal.RawWriter) (int, error)
}

type Options struct {
	// Journal is nil when journaling is disabled.
	Journal Snapshotter
	Logger  *zap.Logger
	Metrics *internaltelemetry.EngineMetrics
	Tracer  trace.Tracer
}

// Coordinator runs nested transactions over the page cache. Only the
// outermost Begin takes the file lock and only the outermost Commit writes.
// It is not safe for concurrent use.
type Coordinator struct {
	storage Storage
	cache   *memtable.PageCache
	journal Snapshotter

	level   int
	txnID   string
	started time.Time
	span    trace.Span
	// clean is the header as it was when the outermost Begin returned.
	clean pagemanager.HeaderPage

	logger  *zap.Logger
	metrics *internaltelemetry.EngineMetrics
	tracer  trace.Tracer
}

func New(storage Storage, cache *memtable.PageCache, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	return &Coordinator{
		storage: storage,
		cache:   cache,
		journal: opts.Journal,
		logger:  logger.Named("transaction"),
		metrics: internaltelemetry.OrNoop(opts.Metrics),
		tracer:  tracer,
	}
}

func (c *Coordinator) State() TransactionState {
	if c.level > 0 {
		return TxnStateRunning
	}
	return TxnStateIdle
}

// Level is the nesting depth; 0 when no transaction runs.
func (c *Coordinator) Level() int { return c.level }

// TxnID identifies the running transaction in logs and traces.
func (c *Coordinator) TxnID() string { return c.txnID }

// Begin starts a transaction or nests into the running one. The outermost
// Begin locks the file and drops the cache when another process committed
// since the last read.
func (c *Coordinator) Begin(ctx context.Context) error {
	if c.level > 0 {
		c.level++
		return nil
	}
	if err := c.storage.Lock(ctx); err != nil {
		return err
	}
	if err := c.refresh(); err != nil {
		return errors.Join(err, c.storage.Unlock())
	}

	if header := c.cache.Header(); header != nil {
		c.clean = *header
		c.clean.IsDirty = false
	}
	c.level = 1
	c.txnID = uuid.NewString()
	c.started = time.Now()
	_, c.span = c.tracer.Start(ctx, "gojolite.transaction",
		trace.WithAttributes(attribute.String("gojolite.txn_id", c.txnID)))
	c.logger.Debug("transaction started", zap.String("txn_id", c.txnID))
	return nil
}

// AvoidDirtyRead refreshes the cache before a read outside a transaction.
func (c *Coordinator) AvoidDirtyRead() error {
	if c.level > 0 {
		return nil
	}
	return c.refresh()
}

// refresh clears the cache when the header on disk has another ChangeID.
func (c *Coordinator) refresh() error {
	header, err := c.storage.ReadHeader()
	if err != nil {
		return err
	}
	if cached := c.cache.Header(); cached == nil || cached.ChangeID != header.ChangeID {
		c.logger.Debug("data file changed, clearing cache", zap.Uint16("change_id", header.ChangeID))
		c.cache.Clear(header)
	}
	return nil
}

// Commit ends one nesting level. The outermost Commit persists dirty pages,
// journal first, then releases the lock. Commit without a transaction is a
// no-op. A failed commit is rolled back.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c.level == 0 {
		return nil
	}
	if c.level > 1 {
		c.level--
		return nil
	}

	pages, err := c.persist()
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, "commit failed")
		c.logger.Error("commit failed, rolling back", zap.String("txn_id", c.txnID), zap.Error(err))
		return errors.Join(err, c.Rollback(ctx))
	}

	elapsed := time.Since(c.started)
	c.metrics.CommitsCounter.Add(ctx, 1)
	c.metrics.CommitLatencyHistogram.Record(ctx, elapsed.Milliseconds())
	c.span.SetAttributes(attribute.Int("gojolite.pages_written", pages))
	c.logger.Debug("transaction committed", zap.String("txn_id", c.txnID), zap.Int("pages", pages), zap.Duration("elapsed", elapsed))
	return c.finish()
}

// persist writes every dirty page and returns how many were written.
func (c *Coordinator) persist() (int, error) {
	if c.cache.DirtyCount() == 0 {
		return 0, nil
	}
	header := c.cache.Header()
	header.ChangeID++
	c.cache.SetDirty(header)
	dirty := c.cache.GetDirtyPages()

	if c.journal != nil {
		if err := c.journal.WriteSnapshot(dirty); err != nil {
			return 0, err
		}
	}

	n, err := c.cache.PersistDirtyPages(c.storage)
	if err == nil {
		err = c.storage.Sync()
	}
	if err != nil {
		if c.journal != nil {
			// The journal is finished, so it can repair what was written.
			if _, rerr := c.journal.Recover(c.storage); rerr != nil {
				c.logger.Error("journal replay after a failed write failed", zap.Error(rerr))
				return n, errors.Join(err, rerr)
			}
		}
		return n, err
	}

	if c.journal != nil {
		if err := c.journal.Delete(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Rollback discards every change of the running transaction, whatever the
// nesting level, and releases the lock.
func (c *Coordinator) Rollback(ctx context.Context) error {
	if c.level == 0 {
		return nil
	}
	header, err := c.storage.ReadHeader()
	if err != nil {
		// Fall back to the header seen at Begin so no uncommitted allocation
		// state survives the rollback.
		clean := c.clean
		c.cache.Clear(&clean)
		err = fmt.Errorf("rereading header on rollback: %w", err)
	} else {
		c.cache.Clear(header)
	}
	c.metrics.RollbacksCounter.Add(ctx, 1)
	c.logger.Debug("transaction rolled back", zap.String("txn_id", c.txnID), zap.Int("level", c.level))
	return errors.Join(err, c.finish())
}

func (c *Coordinator) finish() error {
	c.level = 0
	if c.span != nil {
		c.span.End()
		c.span = nil
	}
	c.txnID = ""
	err := c.storage.Unlock()
	c.cache.CheckPoint()
	return err
}
