// Package engine is the document API of a gojolite data file. An Engine owns
// every component of one open file and serializes calls to them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	"github.com/sushant-115/gojolite/core/indexing/skiplist"
	"github.com/sushant-115/gojolite/core/storage_engine/collection"
	"github.com/sushant-115/gojolite/core/storage_engine/datastore"
	"github.com/sushant-115/gojolite/core/transaction"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
	"github.com/sushant-115/gojolite/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojolite/internal/telemetry"
	"github.com/sushant-115/gojolite/pkg/config"
	"github.com/sushant-115/gojolite/pkg/logger"
	"github.com/sushant-115/gojolite/pkg/telemetry"
)

// Engine is one open data file. All methods are safe for concurrent use;
// calls are executed one at a time.
type Engine struct {
	mu     sync.Mutex
	closed bool
	cfg    config.Config

	disk        *flushmanager.DiskManager
	cache       *memtable.PageCache
	pager       *pager.Pager
	indexer     *skiplist.Indexer
	collections *collection.Directory
	store       *datastore.Store
	journal     *wal.Journal
	txn         *transaction.Coordinator

	logger    *zap.Logger
	metrics   *internaltelemetry.EngineMetrics
	tracer    trace.Tracer
	telemetry *telemetry.Telemetry
	// shutdownTelemetry is set when Open created the providers itself.
	shutdownTelemetry telemetry.ShutdownFunc
}

type options struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	rnd       skiplist.RandomSource
}

// Option customizes Open.
type Option func(*options)

// WithLogger replaces the logger built from config.Config.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTelemetry shares already running providers instead of building them
// from config.Config.Telemetry. The engine does not shut them down.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithRandomSource fixes the coin flips of the skip lists, mostly for tests.
func WithRandomSource(rnd skiplist.RandomSource) Option {
	return func(o *options) { o.rnd = rnd }
}

// Open opens or creates cfg.Filename. A journal left behind by a crashed
// commit is replayed before anything else reads the file.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, logger: o.logger, telemetry: o.telemetry}
	if e.logger == nil {
		l, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, err
		}
		e.logger = l
	}
	e.logger = e.logger.With(zap.String("file", cfg.Filename))

	if e.telemetry == nil {
		tel, shutdown, err := telemetry.New(cfg.Telemetry)
		if err != nil {
			return nil, err
		}
		e.telemetry, e.shutdownTelemetry = tel, shutdown
	}
	e.tracer = e.telemetry.Tracer
	metrics, err := internaltelemetry.NewEngineMetrics(e.telemetry.Meter)
	if err != nil {
		e.logger.Warn("engine metrics unavailable", zap.Error(err))
		metrics = internaltelemetry.NoopEngineMetrics()
	}
	e.metrics = metrics

	if err := e.open(ctx, o.rnd); err != nil {
		e.release()
		return nil, err
	}
	e.logger.Info("data file opened",
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Bool("journal", cfg.JournalEnabled),
		zap.Uint32("last_page_id", uint32(e.cache.Header().LastPageID)))
	return e, nil
}

func (e *Engine) open(ctx context.Context, rnd skiplist.RandomSource) error {
	disk, err := flushmanager.Open(e.cfg.Filename, flushmanager.Options{
		Timeout:         e.cfg.Timeout,
		ReadOnly:        e.cfg.ReadOnly,
		Collation:       e.cfg.Collation,
		SkipHeaderCheck: true,
		Logger:          e.logger,
		Metrics:         e.metrics,
	})
	if err != nil {
		return err
	}
	e.disk = disk

	e.journal = wal.NewJournal(e.cfg.Filename, e.logger, e.metrics)
	if err := e.recover(ctx); err != nil {
		return err
	}

	header, err := disk.ReadHeader()
	if err != nil {
		return err
	}
	collation, err := indexkey.NewCollation(header.Collation)
	if err != nil {
		return fmt.Errorf("%w: %v", flushmanager.ErrInvalidDatabase, err)
	}

	e.cache = memtable.NewPageCache(header, e.cfg.CacheSize, e.logger, e.metrics)
	e.pager = pager.New(disk, e.cache, e.logger)
	e.indexer = skiplist.NewIndexer(e.pager, collation, rnd, e.logger)
	e.collections = collection.NewDirectory(e.pager, e.indexer, e.logger)
	e.store = datastore.New(e.pager, disk, e.logger)

	var snapshots transaction.Snapshotter
	if e.cfg.JournalEnabled {
		snapshots = e.journal
	}
	e.txn = transaction.New(disk, e.cache, transaction.Options{
		Journal: snapshots,
		Logger:  e.logger,
		Metrics: e.metrics,
		Tracer:  e.tracer,
	})
	return nil
}

// recover replays a pending journal under the file lock.
func (e *Engine) recover(ctx context.Context) error {
	if !e.journal.Exists() {
		return nil
	}
	if e.disk.ReadOnly() {
		return fmt.Errorf("%w: %s must be recovered by a writable open", flushmanager.ErrStaleJournal, e.journal.Path())
	}
	if err := e.disk.Lock(ctx); err != nil {
		return err
	}
	pages, err := e.journal.Recover(e.disk)
	if uerr := e.disk.Unlock(); err == nil {
		err = uerr
	}
	if err != nil {
		return err
	}
	if pages > 0 {
		e.logger.Warn("recovered interrupted commit from journal", zap.Int("pages", pages))
	}
	return nil
}

// Close rolls back an open transaction and releases the file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.txn.Level() > 0 {
		e.logger.Warn("closing with an open transaction, rolling back", zap.String("txn_id", e.txn.TxnID()))
		errs = append(errs, e.txn.Rollback(context.Background()))
	}
	errs = append(errs, e.release())
	e.logger.Info("data file closed")
	return errors.Join(errs...)
}

func (e *Engine) release() error {
	var errs []error
	if e.disk != nil {
		errs = append(errs, e.disk.Close())
	}
	if e.shutdownTelemetry != nil {
		errs = append(errs, e.shutdownTelemetry(context.Background()))
	}
	return errors.Join(errs...)
}

// Telemetry exposes the providers the engine records to.
func (e *Engine) Telemetry() *telemetry.Telemetry { return e.telemetry }

// FilePath is the path of the data file.
func (e *Engine) FilePath() string { return e.disk.FilePath() }

// --- Transactions ---

// BeginTrans starts an explicit transaction or nests into the running one.
// Until the matching Commit every write stays in memory.
func (e *Engine) BeginTrans(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	return e.txn.Begin(ctx)
}

// Commit ends one nesting level; the outermost level writes to disk.
// Without a running transaction it does nothing.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return flushmanager.ErrEngineClosed
	}
	return e.txn.Commit(ctx)
}

// Rollback discards the whole transaction, whatever the nesting level.
func (e *Engine) Rollback(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return flushmanager.ErrEngineClosed
	}
	return e.txn.Rollback(ctx)
}

// InTransaction reports whether an explicit transaction is open.
func (e *Engine) InTransaction() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txn.State() == transaction.TxnStateRunning
}

func (e *Engine) writable() error {
	if e.closed {
		return flushmanager.ErrEngineClosed
	}
	if e.cfg.ReadOnly {
		return flushmanager.ErrReadOnly
	}
	return nil
}

// write runs fn in a transaction nested into any explicit one. An error
// from fn rolls back everything, including the explicit transaction.
func (e *Engine) write(ctx context.Context, fn func() error) error {
	if err := e.writable(); err != nil {
		return err
	}
	if err := e.txn.Begin(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rerr := e.txn.Rollback(ctx); rerr != nil {
			e.logger.Error("rollback after failed write", zap.Error(rerr))
			return errors.Join(err, rerr)
		}
		return err
	}
	return e.txn.Commit(ctx)
}

// read runs fn against committed data, or against the open transaction's
// own changes when there is one.
func (e *Engine) read(fn func() error) error {
	if e.closed {
		return flushmanager.ErrEngineClosed
	}
	if err := e.txn.AvoidDirtyRead(); err != nil {
		return err
	}
	err := fn()
	if e.txn.Level() == 0 {
		e.cache.CheckPoint()
	}
	return err
}

// --- Header ---

// UserVersion is a number the application may use to version its schema.
func (e *Engine) UserVersion() (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var v uint16
	err := e.read(func() error {
		v = e.cache.Header().UserVersion
		return nil
	})
	return v, err
}

func (e *Engine) SetUserVersion(ctx context.Context, v uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.write(ctx, func() error {
		header := e.cache.Header()
		header.UserVersion = v
		e.pager.SetDirty(header)
		return nil
	})
}
