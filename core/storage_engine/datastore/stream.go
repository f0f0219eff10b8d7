package datastore

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

// --- Streams ---

// StoreStreamData copies r into a new chain of extend pages and returns the
// first page id and the number of bytes stored. Stream pages are written to
// disk as soon as they are full and never stay in the cache, so a stream can
// be larger than memory. They are always appended past the last page.
func (s *Store) StoreStreamData(r io.Reader) (pagemanager.PageID, int64, error) {
	br := bufio.NewReaderSize(r, pagemanager.PageAvailableBytes)
	buf := make([]byte, pagemanager.PageAvailableBytes)

	first, err := pager.AppendPage[*pagemanager.ExtendPage](s.pager, nil)
	if err != nil {
		return pagemanager.NoPage, 0, err
	}
	cur := first
	var total int64
	for {
		n, rerr := io.ReadFull(br, buf)
		if rerr != nil && rerr != io.EOF && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			s.pager.Uncache(cur.PageID)
			return pagemanager.NoPage, 0, fmt.Errorf("reading stream: %w", rerr)
		}
		cur.SetData(buf[:n])
		total += int64(n)
		if rerr != nil {
			break
		}
		// A stream ending on a page boundary must not leave an empty
		// trailing page.
		if _, perr := br.Peek(1); perr == io.EOF {
			break
		} else if perr != nil {
			s.pager.Uncache(cur.PageID)
			return pagemanager.NoPage, 0, fmt.Errorf("reading stream: %w", perr)
		}

		next, err := pager.AppendPage[*pagemanager.ExtendPage](s.pager, nil)
		if err != nil {
			s.pager.Uncache(cur.PageID)
			return pagemanager.NoPage, 0, err
		}
		cur.NextPageID = next.PageID
		next.PrevPageID = cur.PageID
		if err := s.flushStreamPage(cur); err != nil {
			s.pager.Uncache(next.PageID)
			return pagemanager.NoPage, 0, err
		}
		cur = next
	}
	if err := s.flushStreamPage(cur); err != nil {
		return pagemanager.NoPage, 0, err
	}
	s.logger.Debug("stream stored", zap.Uint32("first_page_id", uint32(first.PageID)), zap.Int64("length", total))
	return first.PageID, total, nil
}

func (s *Store) flushStreamPage(page *pagemanager.ExtendPage) error {
	defer s.pager.Uncache(page.PageID)
	if err := s.disk.WritePage(page); err != nil {
		return fmt.Errorf("writing stream page %d: %w", page.PageID, err)
	}
	return nil
}

// ReadStreamData returns a reader over the chain starting at firstPageID.
// Pages are read straight from disk, one at a time.
func (s *Store) ReadStreamData(firstPageID pagemanager.PageID) io.Reader {
	return &extendReader{disk: s.disk, next: firstPageID}
}

// DeleteStreamData returns every page of the chain to the empty page list.
func (s *Store) DeleteStreamData(firstPageID pagemanager.PageID) error {
	return s.pager.DeletePage(firstPageID, true)
}

type extendReader struct {
	disk PageIO
	next pagemanager.PageID
	data []byte
}

func (r *extendReader) Read(p []byte) (int, error) {
	for len(r.data) == 0 {
		if !r.next.IsValid() {
			return 0, io.EOF
		}
		page, err := r.disk.ReadPage(r.next)
		if err != nil {
			return 0, err
		}
		ext, err := pagemanager.As[*pagemanager.ExtendPage](page)
		if err != nil {
			return 0, fmt.Errorf("%w: stream page %d", flushmanager.ErrInvalidPageData, r.next)
		}
		r.data = ext.Data
		r.next = ext.NextPageID
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
