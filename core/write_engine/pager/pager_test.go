package pager

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// memDisk serves pages that were "persisted" before the test started.
type memDisk map[pagemanager.PageID]pagemanager.Page

func (d memDisk) ReadPage(id pagemanager.PageID) (pagemanager.Page, error) {
	if p, ok := d[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: page %d not on disk", flushmanager.ErrIO, id)
}

func setupPager(t *testing.T) (*Pager, memDisk) {
	t.Helper()
	disk := memDisk{}
	cache := memtable.NewPageCache(pagemanager.NewHeaderPage(), 100, zaptest.NewLogger(t), nil)
	return New(disk, cache, zaptest.NewLogger(t)), disk
}

func TestNewPageBumpsLastPageIDAndLinks(t *testing.T) {
	p, _ := setupPager(t)

	first, err := NewPage[*pagemanager.ExtendPage](p, nil)
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), first.PageID)
	require.True(t, first.IsDirty)
	require.True(t, p.Header().IsDirty)

	third, err := NewPage[*pagemanager.ExtendPage](p, first)
	require.NoError(t, err)
	second, err := NewPage[*pagemanager.ExtendPage](p, first)
	require.NoError(t, err)

	// first -> second -> third
	chain, err := GetSeqPages[*pagemanager.ExtendPage](p, first.PageID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, []pagemanager.PageID{1, 3, 2}, []pagemanager.PageID{chain[0].PageID, chain[1].PageID, chain[2].PageID})
	require.Equal(t, second.PageID, third.PrevPageID)
	require.Equal(t, first.PageID, second.PrevPageID)
	require.Equal(t, pagemanager.PageID(3), p.Header().LastPageID)
}

func TestDeletePageRecyclesIDs(t *testing.T) {
	p, _ := setupPager(t)
	a, err := NewPage[*pagemanager.DataPage](p, nil)
	require.NoError(t, err)
	b, err := NewPage[*pagemanager.DataPage](p, nil)
	require.NoError(t, err)

	require.NoError(t, p.DeletePage(a.PageID, false))
	require.NoError(t, p.DeletePage(b.PageID, false))
	require.Equal(t, b.PageID, p.Header().FreeEmptyPageID)

	empty, err := GetTypedPage[*pagemanager.EmptyPage](p, b.PageID)
	require.NoError(t, err)
	require.Equal(t, a.PageID, empty.NextPageID)

	_, err = GetTypedPage[*pagemanager.DataPage](p, b.PageID)
	require.ErrorIs(t, err, flushmanager.ErrPageTypeMismatch)

	// LIFO reuse, and the file does not grow.
	c, err := NewPage[*pagemanager.IndexPage](p, nil)
	require.NoError(t, err)
	require.Equal(t, b.PageID, c.PageID)
	d, err := NewPage[*pagemanager.IndexPage](p, nil)
	require.NoError(t, err)
	require.Equal(t, a.PageID, d.PageID)
	require.False(t, p.Header().FreeEmptyPageID.IsValid())
	require.Equal(t, pagemanager.PageID(2), p.Header().LastPageID)
}

func TestDeletePageSequence(t *testing.T) {
	p, _ := setupPager(t)
	head, err := NewPage[*pagemanager.ExtendPage](p, nil)
	require.NoError(t, err)
	prev := head
	for range 3 {
		prev, err = NewPage[*pagemanager.ExtendPage](p, prev)
		require.NoError(t, err)
	}

	require.NoError(t, p.DeletePage(head.PageID, true))

	var freed []pagemanager.PageID
	for id := p.Header().FreeEmptyPageID; id.IsValid(); {
		e, err := GetTypedPage[*pagemanager.EmptyPage](p, id)
		require.NoError(t, err)
		freed = append(freed, id)
		id = e.NextPageID
	}
	require.ElementsMatch(t, []pagemanager.PageID{1, 2, 3, 4}, freed)
}

func TestDeleteHeaderPageFails(t *testing.T) {
	p, _ := setupPager(t)
	require.ErrorIs(t, p.DeletePage(pagemanager.HeaderPageID, false), flushmanager.ErrInvalidPageData)
}

func TestGetPageLoadsFromDiskOnce(t *testing.T) {
	p, disk := setupPager(t)
	disk[5] = pagemanager.NewDataPage(5)

	first, err := GetTypedPage[*pagemanager.DataPage](p, 5)
	require.NoError(t, err)
	delete(disk, 5)
	second, err := GetTypedPage[*pagemanager.DataPage](p, 5)
	require.NoError(t, err)
	require.Same(t, first, second)

	_, err = p.GetPage(77)
	require.ErrorIs(t, err, flushmanager.ErrIO)
}

// freeListOrder walks the data free list of col and checks its links.
func freeListOrder(t *testing.T, p *Pager, col *pagemanager.CollectionPage) []*pagemanager.DataPage {
	t.Helper()
	var out []*pagemanager.DataPage
	prevID := col.PageID
	for id := col.FreeDataPageID; id.IsValid(); {
		page, err := GetTypedPage[*pagemanager.DataPage](p, id)
		require.NoError(t, err)
		require.Equal(t, prevID, page.PrevPageID, "back link of page %d", id)
		out = append(out, page)
		prevID = id
		id = page.NextPageID
	}
	for i := 1; i < len(out); i++ {
		require.GreaterOrEqual(t, out[i-1].FreeBytes, out[i].FreeBytes, "free list not descending")
	}
	return out
}

func TestFreeListStaysSortedDescending(t *testing.T) {
	p, _ := setupPager(t)
	col, err := NewPage[*pagemanager.CollectionPage](p, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	var pages []*pagemanager.DataPage
	for range 40 {
		page, err := NewPage[*pagemanager.DataPage](p, nil)
		require.NoError(t, err)
		page.FreeBytes = uint16(rng.IntN(pagemanager.PageAvailableBytes))
		require.NoError(t, p.AddOrRemoveToFreeList(true, page, col, &col.FreeDataPageID))
		pages = append(pages, page)
		freeListOrder(t, p, col)
	}
	require.Len(t, freeListOrder(t, p, col), 40)

	// Change free space and move pages around, then drop half of them.
	for i, page := range pages {
		page.FreeBytes = uint16(rng.IntN(pagemanager.PageAvailableBytes))
		require.NoError(t, p.AddOrRemoveToFreeList(i%2 == 0, page, col, &col.FreeDataPageID))
		freeListOrder(t, p, col)
	}
	members := freeListOrder(t, p, col)
	require.Len(t, members, 20)

	for i, page := range pages {
		inList := page.PrevPageID.IsValid() || page.NextPageID.IsValid()
		require.Equal(t, i%2 == 0, inList, "membership of page %d", page.PageID)
	}
}

func TestRemoveUnlinkedPageIsNoop(t *testing.T) {
	p, _ := setupPager(t)
	col, err := NewPage[*pagemanager.CollectionPage](p, nil)
	require.NoError(t, err)
	page, err := NewPage[*pagemanager.DataPage](p, nil)
	require.NoError(t, err)

	require.NoError(t, p.AddOrRemoveToFreeList(false, page, col, &col.FreeDataPageID))
	require.False(t, col.FreeDataPageID.IsValid())
	require.False(t, page.PrevPageID.IsValid())
	require.False(t, page.NextPageID.IsValid())
}

func TestGetFreePageChecksOnlyTheHead(t *testing.T) {
	p, _ := setupPager(t)
	col, err := NewPage[*pagemanager.CollectionPage](p, nil)
	require.NoError(t, err)

	roomy, err := NewPage[*pagemanager.DataPage](p, nil)
	require.NoError(t, err)
	roomy.FreeBytes = 3000
	require.NoError(t, p.AddOrRemoveToFreeList(true, roomy, col, &col.FreeDataPageID))

	got, err := GetFreePage[*pagemanager.DataPage](p, col.FreeDataPageID, 3000)
	require.NoError(t, err)
	require.Same(t, roomy, got)

	fresh, err := GetFreePage[*pagemanager.DataPage](p, col.FreeDataPageID, 3001)
	require.NoError(t, err)
	require.NotEqual(t, roomy.PageID, fresh.PageID)
}
