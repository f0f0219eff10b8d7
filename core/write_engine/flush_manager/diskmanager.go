package flushmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojolite/internal/telemetry"
)

// --- DiskManager ---

const (
	DefaultLockTimeout = time.Minute
	lockPollInterval   = 50 * time.Millisecond
)

// Options configure how a data file is opened.
type Options struct {
	// Timeout bounds how long Lock waits for another writer.
	Timeout  time.Duration
	ReadOnly bool
	// Collation is persisted in the header of a newly created file.
	Collation string
	// SkipHeaderCheck leaves header validation to the caller, which must
	// first replay a pending journal over a possibly torn header page.
	SkipHeaderCheck bool
	Logger          *zap.Logger
	Metrics         *internaltelemetry.EngineMetrics
}

// DiskManager is the only component that touches the data file. Reads go
// through a read-only handle; a read/write handle is opened on first write.
type DiskManager struct {
	filePath string
	reader   *os.File
	writer   *os.File
	timeout  time.Duration
	readOnly bool
	locked   bool

	logger  *zap.Logger
	metrics *internaltelemetry.EngineMetrics
}

// Open opens filePath, creating it with an initial header page when it does
// not exist yet.
func Open(filePath string, opts Options) (*DiskManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	dm := &DiskManager{
		filePath: filePath,
		timeout:  timeout,
		readOnly: opts.ReadOnly,
		logger:   logger.Named("disk_manager"),
		metrics:  internaltelemetry.OrNoop(opts.Metrics),
	}

	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		if opts.ReadOnly {
			return nil, fmt.Errorf("%w: %s does not exist", ErrIO, filePath)
		}
		if err := dm.createFile(opts.Collation); err != nil {
			return nil, err
		}
	}

	reader, err := os.OpenFile(filePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, filePath, err)
	}
	dm.reader = reader

	if !opts.SkipHeaderCheck {
		if _, err := dm.ReadHeader(); err != nil {
			_ = reader.Close()
			return nil, err
		}
	}
	dm.logger.Debug("data file opened", zap.String("path", filePath), zap.Bool("read_only", opts.ReadOnly))
	return dm, nil
}

func (dm *DiskManager) createFile(collation string) error {
	file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// Another process created it first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
	}
	header := pagemanager.NewHeaderPage()
	header.Collation = collation
	buf, err := pagemanager.Encode(header)
	if err == nil {
		_, err = file.WriteAt(buf, 0)
	}
	if err == nil {
		err = file.Sync()
	}
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dm.filePath)
		return fmt.Errorf("%w: writing initial header of %s: %v", ErrIO, dm.filePath, err)
	}
	dm.logger.Info("created new data file", zap.String("path", dm.filePath), zap.String("collation", collation))
	return nil
}

func (dm *DiskManager) FilePath() string { return dm.filePath }

func (dm *DiskManager) ReadOnly() bool { return dm.readOnly }

// getWriter lazily opens the read/write handle.
func (dm *DiskManager) getWriter() (*os.File, error) {
	if dm.writer != nil {
		return dm.writer, nil
	}
	if dm.readOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, dm.filePath)
	}
	w, err := os.OpenFile(dm.filePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for writing: %v", ErrIO, dm.filePath, err)
	}
	dm.writer = w
	return w, nil
}

// ReadPage reads a page from disk. The content region is only read and
// decoded when the page is not Empty.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID) (pagemanager.Page, error) {
	buf := make([]byte, pagemanager.PageSize)
	offset := pageID.Offset()
	if _, err := dm.reader.ReadAt(buf[:pagemanager.PageHeaderSize], offset); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: page %d at offset %d is beyond the end of file", ErrIO, pageID, offset)
		}
		return nil, fmt.Errorf("%w: reading page %d header: %v", ErrIO, pageID, err)
	}
	hdr, err := pagemanager.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.PageType != pagemanager.PageTypeEmpty {
		n, err := dm.reader.ReadAt(buf[pagemanager.PageHeaderSize:], offset+pagemanager.PageHeaderSize)
		if err != nil && !(err == io.EOF && n == pagemanager.PageAvailableBytes) {
			return nil, fmt.Errorf("%w: reading page %d content: %v", ErrIO, pageID, err)
		}
	}
	page, err := pagemanager.Decode(buf)
	if err != nil {
		return nil, err
	}
	if page.Base().PageID != pageID {
		return nil, fmt.Errorf("%w: slot %d holds page %d", ErrInvalidPageData, pageID, page.Base().PageID)
	}
	dm.metrics.PagesReadCounter.Add(context.Background(), 1)
	return page, nil
}

// ReadHeader reads page 0 directly from disk, bypassing any cache.
func (dm *DiskManager) ReadHeader() (*pagemanager.HeaderPage, error) {
	page, err := dm.ReadPage(pagemanager.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDatabase, dm.filePath, err)
	}
	header, ok := page.(*pagemanager.HeaderPage)
	if !ok {
		return nil, fmt.Errorf("%w: %s: page 0 is %s", ErrInvalidDatabase, dm.filePath, page.Base().PageType)
	}
	return header, nil
}

// WritePage serializes and writes a full page and clears its dirty flag.
func (dm *DiskManager) WritePage(page pagemanager.Page) error {
	w, err := dm.getWriter()
	if err != nil {
		return err
	}
	buf, err := pagemanager.Encode(page)
	if err != nil {
		return err
	}
	base := page.Base()
	if _, err := w.WriteAt(buf, base.PageID.Offset()); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", ErrIO, base.PageID, err)
	}
	base.IsDirty = false
	dm.metrics.PagesWrittenCounter.Add(context.Background(), 1)
	return nil
}

// ReadRaw reads the raw image of a page into buf.
func (dm *DiskManager) ReadRaw(pageID pagemanager.PageID, buf []byte) error {
	if len(buf) != pagemanager.PageSize {
		return fmt.Errorf("%w: raw buffer is %d bytes", ErrIO, len(buf))
	}
	if _, err := dm.reader.ReadAt(buf, pageID.Offset()); err != nil {
		return fmt.Errorf("%w: reading raw page %d: %v", ErrIO, pageID, err)
	}
	return nil
}

// WriteRaw writes a page image verbatim. Journal replay uses it.
func (dm *DiskManager) WriteRaw(pageID pagemanager.PageID, buf []byte) error {
	if len(buf) != pagemanager.PageSize {
		return fmt.Errorf("%w: raw buffer is %d bytes", ErrIO, len(buf))
	}
	w, err := dm.getWriter()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(buf, pageID.Offset()); err != nil {
		return fmt.Errorf("%w: writing raw page %d: %v", ErrIO, pageID, err)
	}
	dm.metrics.PagesWrittenCounter.Add(context.Background(), 1)
	return nil
}

// SetLength grows the file to hold pageCount pages. It never shrinks it.
func (dm *DiskManager) SetLength(pageCount int64) error {
	w, err := dm.getWriter()
	if err != nil {
		return err
	}
	fi, err := w.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	want := pageCount * pagemanager.PageSize
	if fi.Size() >= want {
		return nil
	}
	if err := w.Truncate(want); err != nil {
		return fmt.Errorf("%w: growing %s to %d bytes: %v", ErrIO, dm.filePath, want, err)
	}
	return nil
}

func (dm *DiskManager) FileSize() (int64, error) {
	fi, err := dm.reader.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIO, dm.filePath, err)
	}
	return fi.Size(), nil
}

// Sync flushes the writer handle, if any.
func (dm *DiskManager) Sync() error {
	if dm.writer == nil {
		return nil
	}
	if err := dm.writer.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrIO, dm.filePath, err)
	}
	return nil
}

// --- Locking ---

// Lock takes the exclusive advisory lock on the data file, waiting for
// another process to release it for at most the configured timeout.
func (dm *DiskManager) Lock(ctx context.Context) error {
	if dm.locked {
		return nil
	}
	err := tryLockFile(dm.reader)
	if err == nil {
		dm.locked = true
		return nil
	}
	if !isLockContention(err) {
		return fmt.Errorf("%w: locking %s: %v", ErrIO, dm.filePath, err)
	}
	dm.metrics.LockWaitsCounter.Add(ctx, 1)
	dm.logger.Debug("data file locked by another writer, waiting", zap.String("path", dm.filePath), zap.Duration("timeout", dm.timeout))
	return dm.waitForLock(ctx)
}

func (dm *DiskManager) waitForLock(ctx context.Context) error {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		dm.logger.Warn("file notifications unavailable, polling for lock", zap.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(dm.filePath)); err != nil {
			dm.logger.Warn("cannot watch data file directory, polling for lock", zap.Error(err))
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	deadline := time.NewTimer(dm.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrLockTimeout, dm.filePath, dm.timeout)
		case ev := <-events:
			dm.logger.Debug("directory event while waiting for lock", zap.String("event", ev.String()))
		case werr := <-errs:
			dm.logger.Debug("watcher error while waiting for lock", zap.Error(werr))
		case <-ticker.C:
		}

		err := tryLockFile(dm.reader)
		if err == nil {
			dm.locked = true
			return nil
		}
		if !isLockContention(err) {
			return fmt.Errorf("%w: locking %s: %v", ErrIO, dm.filePath, err)
		}
	}
}

// Unlock releases the lock taken by Lock.
func (dm *DiskManager) Unlock() error {
	if !dm.locked {
		return nil
	}
	if err := unlockFile(dm.reader); err != nil {
		return fmt.Errorf("%w: unlocking %s: %v", ErrIO, dm.filePath, err)
	}
	dm.locked = false
	return nil
}

func (dm *DiskManager) Locked() bool { return dm.locked }

// Close releases the lock and both file handles.
func (dm *DiskManager) Close() error {
	var errs []error
	if err := dm.Unlock(); err != nil {
		errs = append(errs, err)
	}
	if dm.writer != nil {
		if err := dm.writer.Sync(); err != nil {
			dm.logger.Warn("error syncing data file on close", zap.Error(err))
		}
		errs = append(errs, dm.writer.Close())
		dm.writer = nil
	}
	if dm.reader != nil {
		errs = append(errs, dm.reader.Close())
		dm.reader = nil
	}
	return errors.Join(errs...)
}
