package pager

import (
	"fmt"

	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// PageReader loads pages that are not cached yet.
type PageReader interface {
	ReadPage(pageID pagemanager.PageID) (pagemanager.Page, error)
}

// Pager allocates, recycles and links pages. Every page it hands out is the
// cached instance, so callers mutate pages in place and mark them dirty.
type Pager struct {
	disk   PageReader
	cache  *memtable.PageCache
	logger *zap.Logger
}

func New(disk PageReader, cache *memtable.PageCache, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{disk: disk, cache: cache, logger: logger.Named("pager")}
}

func (p *Pager) Header() *pagemanager.HeaderPage { return p.cache.Header() }

func (p *Pager) Cache() *memtable.PageCache { return p.cache }

// GetPage returns the cached page or loads it from disk.
func (p *Pager) GetPage(pageID pagemanager.PageID) (pagemanager.Page, error) {
	if !pageID.IsValid() {
		return nil, fmt.Errorf("%w: invalid page id", flushmanager.ErrInvalidPageData)
	}
	if page, ok := p.cache.GetPage(pageID); ok {
		return page, nil
	}
	page, err := p.disk.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	p.cache.AddPage(page)
	return page, nil
}

// GetTypedPage returns page pageID as T. A page of another type, cached or on
// disk, is a corruption signal and yields ErrPageTypeMismatch.
func GetTypedPage[T pagemanager.Page](p *Pager, pageID pagemanager.PageID) (T, error) {
	if t, ok := memtable.GetTyped[T](p.cache, pageID); ok {
		return t, nil
	}
	page, err := p.GetPage(pageID)
	if err != nil {
		var zero T
		return zero, err
	}
	return pagemanager.As[T](page)
}

// SetDirty marks page as modified in the cache.
func (p *Pager) SetDirty(page pagemanager.Page) { p.cache.SetDirty(page) }

// Uncache drops a page from the cache; stream pages written directly to disk
// use it.
func (p *Pager) Uncache(pageID pagemanager.PageID) { p.cache.RemovePage(pageID) }

// NewPage returns a fresh page of type T, recycling the head of the empty
// page list when possible. When prev is not nil the new page is linked right
// after it.
func NewPage[T pagemanager.Page](p *Pager, prev pagemanager.Page) (T, error) {
	var zero T
	header := p.Header()
	var pageID pagemanager.PageID
	if header.FreeEmptyPageID.IsValid() {
		empty, err := GetTypedPage[*pagemanager.EmptyPage](p, header.FreeEmptyPageID)
		if err != nil {
			return zero, fmt.Errorf("reading empty page list head: %w", err)
		}
		pageID = empty.PageID
		header.FreeEmptyPageID = empty.NextPageID
	} else {
		id, err := p.bumpLastPageID()
		if err != nil {
			return zero, err
		}
		pageID = id
	}
	p.SetDirty(header)
	return link(p, pagemanager.Create[T](pageID), prev)
}

// AppendPage returns a fresh page of type T past the last allocated page,
// never recycling. Pages written outside the cache use it so a rollback can
// not leave the empty page list pointing at an overwritten page.
func AppendPage[T pagemanager.Page](p *Pager, prev pagemanager.Page) (T, error) {
	var zero T
	pageID, err := p.bumpLastPageID()
	if err != nil {
		return zero, err
	}
	p.SetDirty(p.Header())
	return link(p, pagemanager.Create[T](pageID), prev)
}

func (p *Pager) bumpLastPageID() (pagemanager.PageID, error) {
	header := p.Header()
	if header.LastPageID+1 == pagemanager.NoPage {
		return pagemanager.NoPage, flushmanager.ErrDatabaseFull
	}
	header.LastPageID++
	return header.LastPageID, nil
}

// link caches page as dirty and, when prev is set, inserts it after prev in
// prev's page sequence.
func link[T pagemanager.Page](p *Pager, page T, prev pagemanager.Page) (T, error) {
	var zero T
	if prev != nil {
		base, pb := page.Base(), prev.Base()
		base.PrevPageID = pb.PageID
		base.NextPageID = pb.NextPageID
		if pb.NextPageID.IsValid() {
			next, err := p.GetPage(pb.NextPageID)
			if err != nil {
				return zero, err
			}
			next.Base().PrevPageID = base.PageID
			p.SetDirty(next)
		}
		pb.NextPageID = base.PageID
		p.SetDirty(prev)
	}
	p.SetDirty(page)
	return page, nil
}

// GetFreePage returns the first page of the free list starting at
// startPageID when it has at least size free bytes, otherwise a new page.
// Only the list head is inspected.
func GetFreePage[T pagemanager.Page](p *Pager, startPageID pagemanager.PageID, size int) (T, error) {
	if startPageID.IsValid() {
		page, err := GetTypedPage[T](p, startPageID)
		if err != nil {
			var zero T
			return zero, err
		}
		if int(page.Base().FreeBytes) >= size {
			return page, nil
		}
	}
	return NewPage[T](p, nil)
}

// GetSeqPages follows NextPageID links from firstPageID.
func GetSeqPages[T pagemanager.Page](p *Pager, firstPageID pagemanager.PageID) ([]T, error) {
	var pages []T
	limit := int(p.Header().LastPageID) + 1
	for id := firstPageID; id.IsValid(); {
		if len(pages) >= limit {
			return nil, fmt.Errorf("%w: page chain from %d has a cycle", flushmanager.ErrInvalidPageData, firstPageID)
		}
		page, err := GetTypedPage[T](p, id)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		id = page.Base().NextPageID
	}
	return pages, nil
}

// DeletePage turns pageID (and, with addSequence, every page that follows it
// through NextPageID) into an empty page pushed on the header's empty list.
func (p *Pager) DeletePage(pageID pagemanager.PageID, addSequence bool) error {
	ids := []pagemanager.PageID{pageID}
	if addSequence {
		pages, err := GetSeqPages[pagemanager.Page](p, pageID)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, page := range pages {
			ids = append(ids, page.Base().PageID)
		}
	}

	header := p.Header()
	for _, id := range ids {
		if id == pagemanager.HeaderPageID || !id.IsValid() {
			return fmt.Errorf("%w: cannot delete page %s", flushmanager.ErrInvalidPageData, id)
		}
		empty := pagemanager.NewEmptyPage(id)
		empty.NextPageID = header.FreeEmptyPageID
		header.FreeEmptyPageID = id
		p.SetDirty(empty)
	}
	p.SetDirty(header)
	return nil
}

// --- Free lists ---

// AddOrRemoveToFreeList keeps page's membership in a free list in sync with
// add. The list head lives in *fieldPageID, a field of startPage. Members are
// ordered by FreeBytes, largest first; the first member's PrevPageID is the
// start page. A page is a member exactly when one of its links is set.
func (p *Pager) AddOrRemoveToFreeList(add bool, page pagemanager.Page, startPage pagemanager.Page, fieldPageID *pagemanager.PageID) error {
	base := page.Base()
	inList := base.PrevPageID.IsValid() || base.NextPageID.IsValid()

	switch {
	case add && !inList:
		return p.addToFreeList(page, startPage, fieldPageID)
	case add && inList:
		// FreeBytes changed: move the page to its new position.
		if err := p.removeFromFreeList(page, startPage, fieldPageID); err != nil {
			return err
		}
		return p.addToFreeList(page, startPage, fieldPageID)
	case !add && inList:
		return p.removeFromFreeList(page, startPage, fieldPageID)
	}
	return nil
}

func (p *Pager) addToFreeList(page pagemanager.Page, startPage pagemanager.Page, fieldPageID *pagemanager.PageID) error {
	base := page.Base()
	startID := startPage.Base().PageID

	var prev pagemanager.Page
	next := *fieldPageID
	for next.IsValid() {
		cur, err := p.GetPage(next)
		if err != nil {
			return err
		}
		if cur.Base().FreeBytes <= base.FreeBytes {
			break
		}
		prev = cur
		next = cur.Base().NextPageID
	}

	if prev == nil {
		base.PrevPageID = startID
		*fieldPageID = base.PageID
		p.SetDirty(startPage)
	} else {
		base.PrevPageID = prev.Base().PageID
		prev.Base().NextPageID = base.PageID
		p.SetDirty(prev)
	}

	base.NextPageID = next
	if next.IsValid() {
		nextPage, err := p.GetPage(next)
		if err != nil {
			return err
		}
		nextPage.Base().PrevPageID = base.PageID
		p.SetDirty(nextPage)
	}
	p.SetDirty(page)
	return nil
}

func (p *Pager) removeFromFreeList(page pagemanager.Page, startPage pagemanager.Page, fieldPageID *pagemanager.PageID) error {
	base := page.Base()
	startID := startPage.Base().PageID

	if base.PrevPageID == startID || *fieldPageID == base.PageID {
		*fieldPageID = base.NextPageID
		p.SetDirty(startPage)
	} else if base.PrevPageID.IsValid() {
		prev, err := p.GetPage(base.PrevPageID)
		if err != nil {
			return err
		}
		prev.Base().NextPageID = base.NextPageID
		p.SetDirty(prev)
	}

	if base.NextPageID.IsValid() {
		next, err := p.GetPage(base.NextPageID)
		if err != nil {
			return err
		}
		next.Base().PrevPageID = base.PrevPageID
		p.SetDirty(next)
	}

	base.PrevPageID = pagemanager.NoPage
	base.NextPageID = pagemanager.NoPage
	p.SetDirty(page)
	return nil
}
