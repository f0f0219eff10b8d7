package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/wal"
)

// fakeStorage is a data file kept as encoded page images.
type fakeStorage struct {
	pages     map[pagemanager.PageID][]byte
	locked    bool
	locks     int
	unlocks   int
	writes    int
	syncs     int
	failWrite error
	lockErr   error
	headerErr error
}

func newFakeStorage(t *testing.T) *fakeStorage {
	t.Helper()
	s := &fakeStorage{pages: make(map[pagemanager.PageID][]byte)}
	require.NoError(t, s.WritePage(pagemanager.NewHeaderPage()))
	s.writes = 0
	return s
}

func (s *fakeStorage) Lock(context.Context) error {
	if s.lockErr != nil {
		return s.lockErr
	}
	s.locked = true
	s.locks++
	return nil
}

func (s *fakeStorage) Unlock() error {
	s.locked = false
	s.unlocks++
	return nil
}

func (s *fakeStorage) ReadHeader() (*pagemanager.HeaderPage, error) {
	if s.headerErr != nil {
		return nil, s.headerErr
	}
	p, err := pagemanager.Decode(s.pages[pagemanager.HeaderPageID])
	if err != nil {
		return nil, err
	}
	return p.(*pagemanager.HeaderPage), nil
}

func (s *fakeStorage) SetLength(int64) error { return nil }

func (s *fakeStorage) WritePage(page pagemanager.Page) error {
	if s.failWrite != nil && s.writes > 0 {
		return s.failWrite
	}
	buf, err := pagemanager.Encode(page)
	if err != nil {
		return err
	}
	s.pages[page.Base().PageID] = buf
	page.Base().IsDirty = false
	s.writes++
	return nil
}

func (s *fakeStorage) WriteRaw(id pagemanager.PageID, buf []byte) error {
	s.pages[id] = append([]byte(nil), buf...)
	return nil
}

func (s *fakeStorage) Sync() error {
	s.syncs++
	return nil
}

// countingJournal records snapshots without touching the file system.
type countingJournal struct {
	snapshots int
	deletes   int
	recovers  int
	pages     []pagemanager.Page
}

func (j *countingJournal) WriteSnapshot(pages []pagemanager.Page) error {
	j.snapshots++
	j.pages = pages
	return nil
}

func (j *countingJournal) Delete() error {
	j.deletes++
	return nil
}

func (j *countingJournal) Recover(wal.RawWriter) (int, error) {
	j.recovers++
	return len(j.pages), nil
}

func setupCoordinator(t *testing.T, journal Snapshotter) (*Coordinator, *fakeStorage, *memtable.PageCache) {
	t.Helper()
	storage := newFakeStorage(t)
	header, err := storage.ReadHeader()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	cache := memtable.NewPageCache(header, 100, logger, nil)
	return New(storage, cache, Options{Journal: journal, Logger: logger}), storage, cache
}

func dirtyPage(cache *memtable.PageCache, id pagemanager.PageID) {
	header := cache.Header()
	if header.LastPageID < id {
		header.LastPageID = id
		cache.SetDirty(header)
	}
	page := pagemanager.NewExtendPage(id)
	page.SetData([]byte("payload"))
	cache.SetDirty(page)
}

func TestNestedBeginCommit(t *testing.T) {
	journal := &countingJournal{}
	c, storage, cache := setupCoordinator(t, journal)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.Equal(t, 3, c.Level())
	require.Equal(t, 1, storage.locks)
	require.NotEmpty(t, c.TxnID())

	dirtyPage(cache, 1)

	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Commit(ctx))
	require.Zero(t, storage.writes, "inner commits do not persist")
	require.Zero(t, storage.unlocks)
	require.Equal(t, TxnStateRunning, c.State())

	require.NoError(t, c.Commit(ctx))
	require.Equal(t, TxnStateIdle, c.State())
	require.Equal(t, 2, storage.writes, "header and page 1")
	require.Equal(t, 1, storage.unlocks)
	require.Equal(t, 1, journal.snapshots)
	require.Equal(t, 1, journal.deletes)
	require.Len(t, journal.pages, 2)
	require.Zero(t, cache.DirtyCount())

	header, err := storage.ReadHeader()
	require.NoError(t, err)
	require.EqualValues(t, 1, header.ChangeID)
	require.Empty(t, c.TxnID())
}

func TestCommitWithoutTransactionIsNoop(t *testing.T) {
	c, storage, _ := setupCoordinator(t, nil)
	require.NoError(t, c.Commit(context.Background()))
	require.NoError(t, c.Rollback(context.Background()))
	require.Zero(t, storage.locks)
	require.Zero(t, storage.unlocks)
}

func TestCommitWithoutChangesWritesNothing(t *testing.T) {
	journal := &countingJournal{}
	c, storage, _ := setupCoordinator(t, journal)
	ctx := context.Background()
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Commit(ctx))
	require.Zero(t, storage.writes)
	require.Zero(t, journal.snapshots)
	require.Equal(t, 1, storage.unlocks)
}

func TestRollbackAtAnyLevelDiscardsEverything(t *testing.T) {
	c, storage, cache := setupCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	dirtyPage(cache, 1)
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Rollback(ctx))

	require.Equal(t, 0, c.Level())
	require.Zero(t, storage.writes)
	require.Equal(t, 1, storage.unlocks)
	require.Zero(t, cache.DirtyCount())
	require.Zero(t, cache.Len())
	require.Equal(t, pagemanager.HeaderPageID, cache.Header().LastPageID)

	// Commit after the rollback has nothing to do.
	require.NoError(t, c.Commit(ctx))
	require.Equal(t, 1, storage.unlocks)
}

func TestBeginClearsCacheAfterExternalCommit(t *testing.T) {
	c, storage, cache := setupCoordinator(t, nil)
	ctx := context.Background()

	cache.AddPage(pagemanager.NewDataPage(4))
	require.Equal(t, 1, cache.Len())

	// Same ChangeID: the cache survives.
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Commit(ctx))
	require.Equal(t, 1, cache.Len())

	// Another process commits.
	header, err := storage.ReadHeader()
	require.NoError(t, err)
	header.ChangeID = 41
	require.NoError(t, storage.WritePage(header))

	require.NoError(t, c.Begin(ctx))
	require.Zero(t, cache.Len())
	require.EqualValues(t, 41, cache.Header().ChangeID)
	require.NoError(t, c.Commit(ctx))
}

func TestAvoidDirtyRead(t *testing.T) {
	c, storage, cache := setupCoordinator(t, nil)
	cache.AddPage(pagemanager.NewDataPage(4))

	header, err := storage.ReadHeader()
	require.NoError(t, err)
	header.ChangeID = 7
	require.NoError(t, storage.WritePage(header))

	require.NoError(t, c.AvoidDirtyRead())
	require.Zero(t, cache.Len())
	require.EqualValues(t, 7, cache.Header().ChangeID)
}

func TestFailedPersistReplaysJournalAndRollsBack(t *testing.T) {
	journal := &countingJournal{}
	c, storage, cache := setupCoordinator(t, journal)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	dirtyPage(cache, 1)
	dirtyPage(cache, 2)
	storage.failWrite = errors.New("disk full")

	err := c.Commit(ctx)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 1, journal.recovers)
	require.Zero(t, journal.deletes, "the journal stays until a replay succeeds")
	require.Equal(t, TxnStateIdle, c.State())
	require.Equal(t, 1, storage.unlocks)
	require.Zero(t, cache.DirtyCount())
}

func TestBeginFailsWhenLockFails(t *testing.T) {
	c, storage, _ := setupCoordinator(t, nil)
	storage.lockErr = errors.New("locked elsewhere")
	require.ErrorContains(t, c.Begin(context.Background()), "locked elsewhere")
	require.Equal(t, 0, c.Level())
	require.Zero(t, storage.unlocks)
}

func TestCommitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	storage := newFakeStorage(t)
	header, err := storage.ReadHeader()
	require.NoError(t, err)
	cache := memtable.NewPageCache(header, 100, zaptest.NewLogger(t), nil)
	c := New(storage, cache, Options{Tracer: tp.Tracer("test")})
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	id := c.TxnID()
	dirtyPage(cache, 1)
	require.NoError(t, c.Commit(ctx))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "gojolite.transaction", spans[0].Name())
	var gotID string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "gojolite.txn_id" {
			gotID = kv.Value.AsString()
		}
	}
	require.Equal(t, id, gotID)
}

func TestRollbackWithUnreadableHeaderRestoresCleanHeader(t *testing.T) {
	c, storage, cache := setupCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	dirtyPage(cache, 3)
	require.EqualValues(t, 3, cache.Header().LastPageID)
	require.True(t, cache.Header().IsDirty)

	storage.headerErr = errors.New("read failed")
	err := c.Rollback(ctx)
	require.ErrorContains(t, err, "read failed")
	require.Equal(t, TxnStateIdle, c.State())
	require.False(t, storage.locked)

	header := cache.Header()
	require.Equal(t, pagemanager.HeaderPageID, header.LastPageID)
	require.False(t, header.IsDirty)
	require.Zero(t, cache.DirtyCount())
	require.Zero(t, cache.Len())
}
