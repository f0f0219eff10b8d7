package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojolite/internal/telemetry"
)

// --- Journal Constants and Types ---

const (
	// JournalMagic marks a journal file ("JRNL").
	JournalMagic   uint32 = 0x4C4E524A
	JournalVersion byte   = 1

	offMagic     = 0
	offVersion   = 4
	offFinish    = 5
	offPageCount = 6
	offChecksum  = 10

	// journalHeaderSize is one page so images stay page aligned.
	journalHeaderSize = pagemanager.PageSize
)

// RawWriter is the part of the disk manager journal replay needs.
type RawWriter interface {
	WriteRaw(pageID pagemanager.PageID, buf []byte) error
	Sync() error
}

// Journal keeps the images of the pages a commit is about to overwrite in a
// file next to the data file. The images are complete new pages, so a crash
// while the data file is written is repaired by writing them again.
//
// Layout: a header block of PageSize bytes {magic u32, version u8, finish u8,
// pageCount u32, checksum u32} followed by pageCount raw page images. The
// finish byte is set last; a journal without it never reached the data file.
type Journal struct {
	path    string
	logger  *zap.Logger
	metrics *internaltelemetry.EngineMetrics
}

// JournalPath returns the journal path for a data file: "<base>-journal<ext>".
func JournalPath(dataPath string) string {
	ext := filepath.Ext(dataPath)
	return strings.TrimSuffix(dataPath, ext) + "-journal" + ext
}

func NewJournal(dataPath string, logger *zap.Logger, metrics *internaltelemetry.EngineMetrics) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		path:    JournalPath(dataPath),
		logger:  logger.Named("journal"),
		metrics: internaltelemetry.OrNoop(metrics),
	}
}

func (j *Journal) Path() string { return j.path }

// Exists reports whether a journal file is present.
func (j *Journal) Exists() bool {
	_, err := os.Stat(j.path)
	return err == nil
}

// WriteSnapshot writes the images of pages to a new journal and marks it
// finished once every image is durable. An existing journal is never
// overwritten: it belongs to a commit that was not cleaned up and must be
// recovered first.
func (j *Journal) WriteSnapshot(pages []pagemanager.Page) error {
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", flushmanager.ErrStaleJournal, j.path)
	}
	if err != nil {
		return fmt.Errorf("%w: creating journal %s: %v", flushmanager.ErrIO, j.path, err)
	}
	defer f.Close()

	images := make([]byte, len(pages)*pagemanager.PageSize)
	for i, page := range pages {
		if err := pagemanager.EncodeInto(page, images[i*pagemanager.PageSize:(i+1)*pagemanager.PageSize]); err != nil {
			return err
		}
	}

	header := make([]byte, journalHeaderSize)
	binary.LittleEndian.PutUint32(header[offMagic:], JournalMagic)
	header[offVersion] = JournalVersion
	header[offFinish] = 0
	binary.LittleEndian.PutUint32(header[offPageCount:], uint32(len(pages)))
	binary.LittleEndian.PutUint32(header[offChecksum:], crc32.ChecksumIEEE(images))

	if _, err := f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("%w: writing journal header: %v", flushmanager.ErrIO, err)
	}
	if _, err := f.WriteAt(images, journalHeaderSize); err != nil {
		return fmt.Errorf("%w: writing journal images: %v", flushmanager.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync journal: %v", flushmanager.ErrIO, err)
	}
	if _, err := f.WriteAt([]byte{1}, offFinish); err != nil {
		return fmt.Errorf("%w: finishing journal: %v", flushmanager.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync journal: %v", flushmanager.ErrIO, err)
	}
	j.logger.Debug("journal written", zap.String("path", j.path), zap.Int("pages", len(pages)))
	return nil
}

// Delete removes the journal. A missing journal is not an error.
func (j *Journal) Delete() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing journal %s: %v", flushmanager.ErrIO, j.path, err)
	}
	return nil
}

// Recover restores the data file from a finished journal and deletes the
// journal. An unfinished journal is discarded: its commit never touched the
// data file. It returns the number of pages restored. Images are verified
// before the first one is written, so a corrupt journal leaves the data file
// untouched and yields ErrJournalCorrupt.
func (j *Journal) Recover(w RawWriter) (int, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading journal %s: %v", flushmanager.ErrIO, j.path, err)
	}

	if len(data) <= offFinish || data[offFinish] != 1 {
		j.logger.Info("discarding unfinished journal", zap.String("path", j.path), zap.Int("bytes", len(data)))
		return 0, j.Delete()
	}

	images, err := j.verify(data)
	if err != nil {
		return 0, err
	}

	count := len(images) / pagemanager.PageSize
	for i := range count {
		img := images[i*pagemanager.PageSize : (i+1)*pagemanager.PageSize]
		pageID := pagemanager.PageID(binary.LittleEndian.Uint32(img))
		if err := w.WriteRaw(pageID, img); err != nil {
			return i, err
		}
	}
	if err := w.Sync(); err != nil {
		return count, err
	}
	j.metrics.JournalReplaysCounter.Add(context.Background(), int64(count))
	j.logger.Info("journal replayed", zap.String("path", j.path), zap.Int("pages", count))
	return count, j.Delete()
}

// verify checks a finished journal and returns its page images.
func (j *Journal) verify(data []byte) ([]byte, error) {
	if len(data) < journalHeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes", flushmanager.ErrJournalCorrupt, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[offMagic:]); magic != JournalMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", flushmanager.ErrJournalCorrupt, magic)
	}
	if v := data[offVersion]; v != JournalVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", flushmanager.ErrJournalCorrupt, v)
	}
	count := int(binary.LittleEndian.Uint32(data[offPageCount:]))
	images := data[journalHeaderSize:]
	if len(images) != count*pagemanager.PageSize {
		return nil, fmt.Errorf("%w: %d bytes of images for %d pages", flushmanager.ErrJournalCorrupt, len(images), count)
	}
	if sum := crc32.ChecksumIEEE(images); sum != binary.LittleEndian.Uint32(data[offChecksum:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", flushmanager.ErrJournalCorrupt)
	}
	return images, nil
}
