package datastore

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

// memDisk keeps encoded page images, like the data file would.
type memDisk struct {
	pages  map[pagemanager.PageID][]byte
	writes int
}

func newMemDisk() *memDisk { return &memDisk{pages: make(map[pagemanager.PageID][]byte)} }

func (d *memDisk) ReadPage(id pagemanager.PageID) (pagemanager.Page, error) {
	buf, ok := d.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: page %d not on disk", flushmanager.ErrIO, id)
	}
	return pagemanager.Decode(buf)
}

func (d *memDisk) WritePage(page pagemanager.Page) error {
	buf, err := pagemanager.Encode(page)
	if err != nil {
		return err
	}
	d.pages[page.Base().PageID] = buf
	page.Base().IsDirty = false
	d.writes++
	return nil
}

func setupStore(t *testing.T) (*Store, *pager.Pager, *memDisk, *pagemanager.CollectionPage) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	disk := newMemDisk()
	cache := memtable.NewPageCache(pagemanager.NewHeaderPage(), 1000, logger, nil)
	p := pager.New(disk, cache, logger)
	col, err := pager.NewPage[*pagemanager.CollectionPage](p, nil)
	require.NoError(t, err)
	col.CollectionName = "docs"
	return New(p, disk, logger), p, disk, col
}

func payload(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rng.UintN(256))
	}
	return out
}

func TestInsertAndReadSmallBlocks(t *testing.T) {
	s, _, _, col := setupStore(t)

	a, err := s.Insert(col, []byte("alpha"))
	require.NoError(t, err)
	b, err := s.Insert(col, []byte("beta"))
	require.NoError(t, err)
	require.Equal(t, a.Position.PageID, b.Position.PageID, "small blocks share a page")
	require.NotEqual(t, a.Position.Index, b.Position.Index)
	require.EqualValues(t, 2, col.DocumentCount)
	require.Equal(t, a.Position.PageID, col.FreeDataPageID)

	got, err := s.Read(b.Position, true)
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), got.Data)
	require.False(t, got.ExtendPageID.IsValid())
}

func TestDataPageLeavesFreeListWhenHalfFull(t *testing.T) {
	s, _, _, col := setupStore(t)

	first, err := s.Insert(col, make([]byte, 1500))
	require.NoError(t, err)
	require.Equal(t, first.Position.PageID, col.FreeDataPageID)

	// 1508 + 1508 bytes used leaves less than DataReservedBytes free.
	_, err = s.Insert(col, make([]byte, 1500))
	require.NoError(t, err)
	require.False(t, col.FreeDataPageID.IsValid())

	third, err := s.Insert(col, make([]byte, 100))
	require.NoError(t, err)
	require.NotEqual(t, first.Position.PageID, third.Position.PageID)
}

func TestLargeDocumentUsesExtendPages(t *testing.T) {
	s, p, _, col := setupStore(t)
	data := payload(3*pagemanager.PageAvailableBytes+17, 1)

	b, err := s.Insert(col, data)
	require.NoError(t, err)
	require.Empty(t, b.Data)
	require.True(t, b.ExtendPageID.IsValid())

	chain, err := pager.GetSeqPages[*pagemanager.ExtendPage](p, b.ExtendPageID)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	got, err := s.Read(b.Position, true)
	require.NoError(t, err)
	require.Equal(t, data, got.Data)

	raw, err := s.Read(b.Position, false)
	require.NoError(t, err)
	require.Empty(t, raw.Data)
}

func TestUpdateKeepsPositionAndTrimsChain(t *testing.T) {
	s, p, _, col := setupStore(t)
	big := payload(3*pagemanager.PageAvailableBytes, 2)
	b, err := s.Insert(col, big)
	require.NoError(t, err)
	pos := b.Position

	smaller := payload(pagemanager.PageAvailableBytes+10, 3)
	_, err = s.Update(col, pos, smaller)
	require.NoError(t, err)
	chain, err := pager.GetSeqPages[*pagemanager.ExtendPage](p, b.ExtendPageID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	got, err := s.Read(pos, true)
	require.NoError(t, err)
	require.Equal(t, smaller, got.Data)

	// Back inline: the chain goes to the empty list.
	extendID := b.ExtendPageID
	_, err = s.Update(col, pos, []byte("tiny"))
	require.NoError(t, err)
	got, err = s.Read(pos, true)
	require.NoError(t, err)
	require.Equal(t, []byte("tiny"), got.Data)
	require.False(t, got.ExtendPageID.IsValid())
	_, err = pager.GetTypedPage[*pagemanager.EmptyPage](p, extendID)
	require.NoError(t, err)

	// And out again.
	_, err = s.Update(col, pos, big)
	require.NoError(t, err)
	got, err = s.Read(pos, true)
	require.NoError(t, err)
	require.Equal(t, big, got.Data)
	require.EqualValues(t, 1, col.DocumentCount)
}

func TestDeleteLastBlockRecyclesPage(t *testing.T) {
	s, p, _, col := setupStore(t)
	b, err := s.Insert(col, []byte("only"))
	require.NoError(t, err)
	pageID := b.Position.PageID

	_, err = s.Delete(col, b.Position)
	require.NoError(t, err)
	require.Zero(t, col.DocumentCount)
	require.False(t, col.FreeDataPageID.IsValid())
	require.Equal(t, pageID, p.Header().FreeEmptyPageID)

	again, err := s.Insert(col, []byte("again"))
	require.NoError(t, err)
	require.Equal(t, pageID, again.Position.PageID)

	_, err = s.Read(b.Position, false)
	require.NoError(t, err, "slot 0 is reused by the new block")
}

func TestDeleteFreesExtendChain(t *testing.T) {
	s, p, _, col := setupStore(t)
	keep, err := s.Insert(col, []byte("keep"))
	require.NoError(t, err)
	b, err := s.Insert(col, payload(2*pagemanager.PageAvailableBytes, 4))
	require.NoError(t, err)

	_, err = s.Delete(col, b.Position)
	require.NoError(t, err)

	var freed int
	for id := p.Header().FreeEmptyPageID; id.IsValid(); freed++ {
		e, err := pager.GetTypedPage[*pagemanager.EmptyPage](p, id)
		require.NoError(t, err)
		id = e.NextPageID
	}
	require.Equal(t, 2, freed)

	got, err := s.Read(keep.Position, true)
	require.NoError(t, err)
	require.Equal(t, []byte("keep"), got.Data)
}

func TestReadMissingBlock(t *testing.T) {
	s, _, _, col := setupStore(t)
	b, err := s.Insert(col, []byte("x"))
	require.NoError(t, err)

	_, err = s.Read(pagemanager.Position{PageID: b.Position.PageID, Index: 9}, false)
	require.ErrorIs(t, err, flushmanager.ErrInvalidPageData)
	_, err = s.Read(pagemanager.EmptyPosition, false)
	require.ErrorIs(t, err, flushmanager.ErrInvalidPageData)
}

func TestStreamRoundTrip(t *testing.T) {
	for _, size := range []int{0, 10, pagemanager.PageAvailableBytes, 2*pagemanager.PageAvailableBytes + 1} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			s, p, disk, _ := setupStore(t)
			data := payload(size, uint64(size))
			cachedBefore := p.Cache().Len()

			first, n, err := s.StoreStreamData(iotest.HalfReader(bytes.NewReader(data)))
			require.NoError(t, err)
			require.EqualValues(t, size, n)
			require.Equal(t, cachedBefore, p.Cache().Len(), "stream pages bypass the cache")

			pages := max(1, (size+pagemanager.PageAvailableBytes-1)/pagemanager.PageAvailableBytes)
			require.Equal(t, pages, disk.writes)

			got, err := io.ReadAll(s.ReadStreamData(first))
			require.NoError(t, err)
			require.Equal(t, len(data), len(got))
			require.True(t, bytes.Equal(data, got))
		})
	}
}

func TestStreamNeverRecyclesPages(t *testing.T) {
	s, p, _, col := setupStore(t)
	b, err := s.Insert(col, []byte("doc"))
	require.NoError(t, err)
	_, err = s.Delete(col, b.Position)
	require.NoError(t, err)
	freed := p.Header().FreeEmptyPageID
	require.True(t, freed.IsValid())

	first, _, err := s.StoreStreamData(bytes.NewReader([]byte("stream")))
	require.NoError(t, err)
	require.NotEqual(t, freed, first)
	require.Equal(t, freed, p.Header().FreeEmptyPageID)
	require.Equal(t, first, p.Header().LastPageID)
}

func TestStreamReadError(t *testing.T) {
	s, p, _, _ := setupStore(t)
	dirty := p.Cache().DirtyCount()
	boom := iotest.ErrReader(fmt.Errorf("boom"))
	_, _, err := s.StoreStreamData(io.MultiReader(bytes.NewReader(payload(5000, 9)), boom))
	require.ErrorContains(t, err, "boom")
	require.Equal(t, dirty, p.Cache().DirtyCount(), "stream pages never stay cached")
}

func TestDeleteStream(t *testing.T) {
	s, p, _, _ := setupStore(t)
	first, _, err := s.StoreStreamData(bytes.NewReader(payload(2*pagemanager.PageAvailableBytes, 5)))
	require.NoError(t, err)

	require.NoError(t, s.DeleteStreamData(first))
	require.Equal(t, first+1, p.Header().FreeEmptyPageID)
	e, err := pager.GetTypedPage[*pagemanager.EmptyPage](p, first+1)
	require.NoError(t, err)
	require.Equal(t, first, e.NextPageID)
}
