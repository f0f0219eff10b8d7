package skiplist

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	"github.com/sushant-115/gojolite/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

type noDisk struct{}

func (noDisk) ReadPage(id pagemanager.PageID) (pagemanager.Page, error) {
	return nil, fmt.Errorf("%w: page %d not cached", flushmanager.ErrIO, id)
}

// fixedLevels yields coin flips that produce the given levels in order.
type fixedLevels struct{ levels []int }

func (f *fixedLevels) Uint64() uint64 {
	if len(f.levels) == 0 {
		return 0
	}
	l := f.levels[0]
	f.levels = f.levels[1:]
	return (uint64(1) << (l - 1)) - 1
}

// setupIndexer builds an in-memory pager with one collection page.
func setupIndexer(t *testing.T, rnd RandomSource) (*Indexer, *pager.Pager, *pagemanager.CollectionPage) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cache := memtable.NewPageCache(pagemanager.NewHeaderPage(), 1000, logger, nil)
	p := pager.New(noDisk{}, cache, logger)
	col, err := pager.NewPage[*pagemanager.CollectionPage](p, nil)
	require.NoError(t, err)
	col.CollectionName = "test"
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(7, 11))
	}
	return NewIndexer(p, nil, rnd, logger), p, col
}

func block(i int) pagemanager.Position {
	return pagemanager.Position{PageID: pagemanager.PageID(1000 + i), Index: uint16(i % 7)}
}

func blocksOf(nodes []*pagemanager.IndexNode) []pagemanager.Position {
	out := make([]pagemanager.Position, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.DataBlock)
	}
	return out
}

// checkLevels verifies ordering and back links on every level.
func checkLevels(t *testing.T, ix *Indexer, index *pagemanager.CollectionIndex) {
	t.Helper()
	head, err := ix.GetNode(index.HeadNode)
	require.NoError(t, err)
	for level := range pagemanager.MaxLevelLength {
		prev := head
		for pos := head.Next[level]; !pos.IsEmpty(); {
			node, err := ix.GetNode(pos)
			require.NoError(t, err)
			require.Greater(t, node.Levels(), level)
			require.Equal(t, prev.Position, node.Prev[level], "back link at level %d", level)
			require.LessOrEqual(t, ix.compare(prev.Key, node.Key), 0, "order at level %d", level)
			prev = node
			pos = node.Next[level]
		}
	}
}

func TestCreateIndexHeadNode(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "_id", pagemanager.IndexOptions{Unique: true})
	require.NoError(t, err)
	require.Equal(t, uint8(0), index.Slot)

	head, err := ix.GetNode(index.HeadNode)
	require.NoError(t, err)
	require.Equal(t, pagemanager.MaxLevelLength, head.Levels())
	require.Equal(t, indexkey.TypeMinValue, head.Key.Type())
	require.True(t, col.IsDirty)

	_, err = ix.CreateIndex(col, "", pagemanager.IndexOptions{})
	require.ErrorIs(t, err, flushmanager.ErrInvalidFieldName)
}

func TestIndexSlotsAreLimited(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	for i := range pagemanager.MaxIndexes {
		_, err := ix.CreateIndex(col, fmt.Sprintf("f%d", i), pagemanager.IndexOptions{})
		require.NoError(t, err)
	}
	_, err := ix.CreateIndex(col, "one_more", pagemanager.IndexOptions{})
	require.ErrorIs(t, err, flushmanager.ErrIndexLimitExceeded)
}

func TestAscendingOrderWithTiesInInsertionOrder(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "age", pagemanager.IndexOptions{})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(3, 4))
	keys := make([]int64, 500)
	for i := range keys {
		keys[i] = int64(rng.IntN(50))
		_, err := ix.AddNode(index, indexkey.Int(keys[i]), block(i))
		require.NoError(t, err)
	}
	checkLevels(t, ix, index)

	all, err := ix.FindAll(index)
	require.NoError(t, err)
	require.Len(t, all, len(keys))

	for i := 1; i < len(all); i++ {
		require.LessOrEqual(t, ix.compare(all[i-1].Key, all[i].Key), 0)
	}

	// Equal keys must appear in the order their blocks were inserted.
	distinct := map[int64]bool{}
	for _, k := range keys {
		distinct[k] = true
	}
	for k := range distinct {
		nodes, err := ix.FindEquals(index, indexkey.Int(k))
		require.NoError(t, err)
		var want []pagemanager.Position
		for i, kk := range keys {
			if kk == k {
				want = append(want, block(i))
			}
		}
		require.Equal(t, want, blocksOf(nodes), "key %d", k)
	}
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	// A failed insert leaves a partially linked node behind (callers roll
	// back), so every duplicate is tried against a fresh index.
	for _, k := range []int64{0, 50, 99} {
		t.Run(fmt.Sprintf("key %d", k), func(t *testing.T) {
			ix, _, col := setupIndexer(t, nil)
			index, err := ix.CreateIndex(col, "_id", pagemanager.IndexOptions{Unique: true})
			require.NoError(t, err)
			for i := range 100 {
				_, err := ix.AddNode(index, indexkey.Int(int64(i)), block(i))
				require.NoError(t, err)
			}

			_, err = ix.AddNode(index, indexkey.Int(k), block(999))
			require.ErrorIs(t, err, flushmanager.ErrIndexDuplicateKey)
		})
	}
}

func TestFindEqualsReturnsMatchingBlock(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "age", pagemanager.IndexOptions{})
	require.NoError(t, err)
	for i, k := range []int64{3, 5, 7} {
		_, err := ix.AddNode(index, indexkey.Int(k), block(i))
		require.NoError(t, err)
	}

	nodes, err := ix.FindEquals(index, indexkey.Int(5))
	require.NoError(t, err)
	require.Equal(t, []pagemanager.Position{block(1)}, blocksOf(nodes))

	one, err := ix.FindOne(index, indexkey.Double(7))
	require.NoError(t, err)
	require.Equal(t, block(2), one.DataBlock)

	missing, err := ix.FindOne(index, indexkey.Int(4))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestFindEqualsWalksBackToBoundary(t *testing.T) {
	// The third duplicate is the only tall node, so a search meets it first
	// and has to walk back to the first duplicate.
	ix, _, col := setupIndexer(t, &fixedLevels{levels: []int{1, 1, 1, 6, 1}})
	index, err := ix.CreateIndex(col, "k", pagemanager.IndexOptions{})
	require.NoError(t, err)

	add := func(k string, i int) {
		_, err := ix.AddNode(index, indexkey.String(k), block(i))
		require.NoError(t, err)
	}
	add("a", 0)
	add("b", 1)
	add("b", 2)
	add("b", 3)
	add("c", 4)
	checkLevels(t, ix, index)

	nodes, err := ix.FindEquals(index, indexkey.String("b"))
	require.NoError(t, err)
	require.Equal(t, []pagemanager.Position{block(1), block(2), block(3)}, blocksOf(nodes))
}

func TestRangeQueries(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "n", pagemanager.IndexOptions{})
	require.NoError(t, err)
	for i := range 10 {
		_, err := ix.AddNode(index, indexkey.Int(int64(i)), block(i))
		require.NoError(t, err)
	}
	keysOf := func(q Query) []int64 {
		t.Helper()
		nodes, err := q.Run(ix, index)
		require.NoError(t, err)
		var out []int64
		for _, n := range nodes {
			out = append(out, n.Key.Int64())
		}
		return out
	}

	require.Equal(t, []int64{7, 8, 9}, keysOf(GT(indexkey.Int(6))))
	require.Equal(t, []int64{6, 7, 8, 9}, keysOf(GTE(indexkey.Int(6))))
	require.Equal(t, []int64{7, 8, 9}, keysOf(GTE(indexkey.Double(6.5))))
	require.Equal(t, []int64{0, 1}, keysOf(LT(indexkey.Int(2))))
	require.Equal(t, []int64{0, 1, 2}, keysOf(LTE(indexkey.Int(2))))
	require.Equal(t, []int64{3, 4, 5}, keysOf(Between(indexkey.Int(3), indexkey.Int(5))))
	require.Equal(t, []int64{3, 4, 5}, keysOf(Between(indexkey.Int(5), indexkey.Int(3))))
	require.Equal(t, []int64{1, 4, 8}, keysOf(In(indexkey.Int(8), indexkey.Int(1), indexkey.Int(4), indexkey.Int(1), indexkey.Int(42))))
	require.Len(t, keysOf(All()), 10)
	require.Empty(t, keysOf(GT(indexkey.Int(9))))

	excl, err := ix.FindBetween(index, indexkey.Int(3), indexkey.Int(5), false, false)
	require.NoError(t, err)
	require.Equal(t, []pagemanager.Position{block(4)}, blocksOf(excl))
}

func TestStartsWithAndNormalization(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "name", pagemanager.IndexOptions{IgnoreCase: true, RemoveAccents: true, TrimWhitespace: true, EmptyStringToNull: true})
	require.NoError(t, err)

	names := []string{"Alice", "  alfred ", "Émile", "bob", "", "ALINE"}
	for i, n := range names {
		_, err := ix.AddNode(index, indexkey.String(n), block(i))
		require.NoError(t, err)
	}

	nodes, err := ix.FindStartsWith(index, "AL")
	require.NoError(t, err)
	var got []string
	for _, n := range nodes {
		got = append(got, n.Key.Str())
	}
	require.Equal(t, []string{"alfred", "alice", "aline"}, got)

	emile, err := ix.FindEquals(index, indexkey.String("emile"))
	require.NoError(t, err)
	require.Equal(t, []pagemanager.Position{block(2)}, blocksOf(emile))

	nulls, err := ix.FindEquals(index, indexkey.Null())
	require.NoError(t, err)
	require.Equal(t, []pagemanager.Position{block(4)}, blocksOf(nulls))

	require.True(t, ix.KeysEqual(index, indexkey.String(" BOB"), indexkey.String("bob")))
}

func TestStartsWithUnderCollation(t *testing.T) {
	ix, p, col := setupIndexer(t, nil)
	coll, err := indexkey.NewCollation("en/IgnoreDiacritics")
	require.NoError(t, err)
	ix = NewIndexer(p, coll, rand.New(rand.NewPCG(7, 11)), zaptest.NewLogger(t))

	index, err := ix.CreateIndex(col, "name", pagemanager.IndexOptions{})
	require.NoError(t, err)
	for i, n := range []string{"zed", "émile", "emma", "ébène"} {
		_, err := ix.AddNode(index, indexkey.String(n), block(i))
		require.NoError(t, err)
	}

	nodes, err := ix.FindStartsWith(index, "em")
	require.NoError(t, err)
	var got []string
	for _, n := range nodes {
		got = append(got, n.Key.Str())
	}
	require.Equal(t, []string{"émile", "emma"}, got)

	// An accented prefix matches keys starting with the base letter.
	nodes, err = ix.FindStartsWith(index, "é")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
}

func TestKeyTooLong(t *testing.T) {
	ix, _, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "name", pagemanager.IndexOptions{})
	require.NoError(t, err)

	_, err = ix.AddNode(index, indexkey.String(strings.Repeat("x", pagemanager.MaxIndexKeyLength)), block(0))
	require.ErrorIs(t, err, flushmanager.ErrIndexKeyTooLong)

	_, err = ix.AddNode(index, indexkey.String(strings.Repeat("x", pagemanager.MaxIndexKeyLength-3)), block(0))
	require.NoError(t, err)
}

func TestDeleteRelinksAndFreesPages(t *testing.T) {
	ix, p, col := setupIndexer(t, nil)
	index, err := ix.CreateIndex(col, "n", pagemanager.IndexOptions{})
	require.NoError(t, err)

	var positions []pagemanager.Position
	for i := range 600 {
		node, err := ix.AddNode(index, indexkey.String(fmt.Sprintf("key-%04d", i)), block(i))
		require.NoError(t, err)
		positions = append(positions, node.Position)
	}
	pagesBefore, err := ix.IndexPageIDs(index)
	require.NoError(t, err)
	require.Greater(t, len(pagesBefore), 2)

	for i, pos := range positions {
		if i%3 == 0 {
			continue
		}
		require.NoError(t, ix.Delete(index, pos))
	}
	checkLevels(t, ix, index)

	all, err := ix.FindAll(index)
	require.NoError(t, err)
	require.Len(t, all, 200)
	for i, n := range all {
		require.Equal(t, block(i*3), n.DataBlock)
	}

	for i := 0; i < len(positions); i += 3 {
		require.NoError(t, ix.Delete(index, positions[i]))
	}
	all, err = ix.FindAll(index)
	require.NoError(t, err)
	require.Empty(t, all)

	// Only the head page survives; the rest went back to the empty list.
	pagesAfter, err := ix.IndexPageIDs(index)
	require.NoError(t, err)
	require.Len(t, pagesAfter, 1)
	require.True(t, p.Header().FreeEmptyPageID.IsValid())

	require.Error(t, ix.Delete(index, index.HeadNode))
}

func TestDropIndex(t *testing.T) {
	ix, p, col := setupIndexer(t, nil)
	pk, err := ix.CreateIndex(col, "_id", pagemanager.IndexOptions{Unique: true})
	require.NoError(t, err)
	index, err := ix.CreateIndex(col, "n", pagemanager.IndexOptions{})
	require.NoError(t, err)
	for i := range 300 {
		_, err := ix.AddNode(index, indexkey.Int(int64(i)), block(i))
		require.NoError(t, err)
	}
	ids, err := ix.IndexPageIDs(index)
	require.NoError(t, err)

	require.NoError(t, ix.DropIndex(col, index))
	require.True(t, index.IsEmpty())
	require.Nil(t, col.GetIndex("n"))
	for _, id := range ids {
		_, err := pager.GetTypedPage[*pagemanager.EmptyPage](p, id)
		require.NoError(t, err)
	}

	require.True(t, errors.Is(ix.DropIndex(col, pk), flushmanager.ErrIndexDropPrimaryKey))
}

func TestFlipCoinIsCapped(t *testing.T) {
	ix, _, _ := setupIndexer(t, &fixedLevels{levels: []int{64}})
	require.Equal(t, pagemanager.MaxLevelLength-1, ix.flipCoin())

	ix, _, _ = setupIndexer(t, &fixedLevels{levels: []int{1}})
	require.Equal(t, 1, ix.flipCoin())
}
