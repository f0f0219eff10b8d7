package memtable

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojolite/internal/telemetry"
)

// DefaultCacheSize is the number of pages kept across transactions before a
// checkpoint drops clean pages.
const DefaultCacheSize = 5000

// PageWriter is the part of the disk manager used to persist dirty pages.
type PageWriter interface {
	SetLength(pageCount int64) error
	WritePage(page pagemanager.Page) error
}

// PageCache is the arena of in-memory pages keyed by PageID. The header page
// is kept apart and is never evicted. Pages are only dropped by CheckPoint
// (outside transactions) or Clear, so a page object is never loaded twice
// while a transaction holds references to it.
type PageCache struct {
	pageTable map[pagemanager.PageID]pagemanager.Page
	header    *pagemanager.HeaderPage
	maxPages  int
	logger    *zap.Logger
	metrics   *internaltelemetry.EngineMetrics
}

// NewPageCache creates a cache around the given header page.
func NewPageCache(header *pagemanager.HeaderPage, maxPages int, logger *zap.Logger, metrics *internaltelemetry.EngineMetrics) *PageCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = DefaultCacheSize
	}
	return &PageCache{
		pageTable: make(map[pagemanager.PageID]pagemanager.Page),
		header:    header,
		maxPages:  maxPages,
		logger:    logger.Named("page_cache"),
		metrics:   internaltelemetry.OrNoop(metrics),
	}
}

func (c *PageCache) Header() *pagemanager.HeaderPage { return c.header }

// GetPage returns the cached page with the given id.
func (c *PageCache) GetPage(pageID pagemanager.PageID) (pagemanager.Page, bool) {
	if pageID == pagemanager.HeaderPageID {
		return c.header, c.header != nil
	}
	p, ok := c.pageTable[pageID]
	return p, ok
}

// GetTyped returns the cached page only when it has the concrete type T.
func GetTyped[T pagemanager.Page](c *PageCache, pageID pagemanager.PageID) (T, bool) {
	var zero T
	p, ok := c.GetPage(pageID)
	if !ok {
		return zero, false
	}
	t, ok := p.(T)
	return t, ok
}

// AddPage stores page, replacing any cached page with the same id.
func (c *PageCache) AddPage(page pagemanager.Page) {
	base := page.Base()
	if base.PageID == pagemanager.HeaderPageID {
		if h, ok := page.(*pagemanager.HeaderPage); ok {
			c.header = h
		}
		return
	}
	c.pageTable[base.PageID] = page
}

// SetDirty flags page as modified and makes sure it is the cached instance.
func (c *PageCache) SetDirty(page pagemanager.Page) {
	page.Base().IsDirty = true
	c.AddPage(page)
}

// RemovePage forgets a cached page.
func (c *PageCache) RemovePage(pageID pagemanager.PageID) {
	delete(c.pageTable, pageID)
}

// Clear drops every cached page, including uncommitted changes. When
// newHeader is not nil it replaces the cached header.
func (c *PageCache) Clear(newHeader *pagemanager.HeaderPage) {
	c.pageTable = make(map[pagemanager.PageID]pagemanager.Page)
	if newHeader != nil {
		c.header = newHeader
	}
}

func (c *PageCache) Len() int { return len(c.pageTable) }

// DirtyCount returns the number of modified pages, header included.
func (c *PageCache) DirtyCount() int {
	n := 0
	if c.header != nil && c.header.IsDirty {
		n++
	}
	for _, p := range c.pageTable {
		if p.Base().IsDirty {
			n++
		}
	}
	return n
}

// GetDirtyPages returns the dirty header first, then the other dirty pages in
// ascending PageID order.
func (c *PageCache) GetDirtyPages() []pagemanager.Page {
	var out []pagemanager.Page
	if c.header != nil && c.header.IsDirty {
		out = append(out, c.header)
	}
	rest := make([]pagemanager.Page, 0, len(c.pageTable))
	for _, p := range c.pageTable {
		if p.Base().IsDirty {
			rest = append(rest, p)
		}
	}
	slices.SortFunc(rest, func(a, b pagemanager.Page) int {
		return cmp.Compare(a.Base().PageID, b.Base().PageID)
	})
	return append(out, rest...)
}

// PersistDirtyPages grows the file to LastPageID+1 pages and writes every
// dirty page. It returns the number of pages written.
func (c *PageCache) PersistDirtyPages(w PageWriter) (int, error) {
	dirty := c.GetDirtyPages()
	if len(dirty) == 0 {
		return 0, nil
	}
	if err := w.SetLength(int64(c.header.LastPageID) + 1); err != nil {
		return 0, err
	}
	for i, p := range dirty {
		if err := w.WritePage(p); err != nil {
			return i, err
		}
		p.Base().IsDirty = false
	}
	c.logger.Debug("persisted dirty pages", zap.Int("count", len(dirty)), zap.Uint32("last_page_id", uint32(c.header.LastPageID)))
	return len(dirty), nil
}

// CheckPoint drops clean pages when the cache holds more than its configured
// size. It must only run outside a transaction.
func (c *PageCache) CheckPoint() int {
	removed := 0
	if len(c.pageTable) > c.maxPages {
		for id, p := range c.pageTable {
			if !p.Base().IsDirty {
				delete(c.pageTable, id)
				removed++
			}
		}
		c.logger.Debug("cache checkpoint", zap.Int("removed", removed), zap.Int("remaining", len(c.pageTable)))
	}
	c.metrics.CachedPagesGauge.Record(context.Background(), int64(len(c.pageTable)))
	return removed
}
