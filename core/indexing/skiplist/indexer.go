package skiplist

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

// RandomSource provides the coin flips that choose node levels.
// *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	Uint64() uint64
}

// Indexer maintains skip-list indexes stored in index pages.
type Indexer struct {
	pager     *pager.Pager
	collation indexkey.Collation
	rnd       RandomSource
	logger    *zap.Logger
}

// NewIndexer creates an indexer. A nil collation compares strings ordinally
// and a nil rnd uses a randomly seeded PCG.
func NewIndexer(p *pager.Pager, collation indexkey.Collation, rnd RandomSource, logger *zap.Logger) *Indexer {
	if collation == nil {
		collation = indexkey.Ordinal()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{pager: p, collation: collation, rnd: rnd, logger: logger.Named("indexer")}
}

func (ix *Indexer) Collation() indexkey.Collation { return ix.collation }

func (ix *Indexer) compare(a, b indexkey.Key) int {
	return indexkey.Compare(a, b, ix.collation)
}

// KeysEqual reports whether a and b are the same key once normalized with
// index's options.
func (ix *Indexer) KeysEqual(index *pagemanager.CollectionIndex, a, b indexkey.Key) bool {
	return ix.compare(Normalize(index.Options, a), Normalize(index.Options, b)) == 0
}

// CreateIndex claims a free slot of col and creates the index head node.
func (ix *Indexer) CreateIndex(col *pagemanager.CollectionPage, field string, opts pagemanager.IndexOptions) (*pagemanager.CollectionIndex, error) {
	if field == "" || len(field) > pagemanager.MaxFieldNameLength || strings.HasPrefix(field, "$") {
		return nil, fmt.Errorf("%w: %q", flushmanager.ErrInvalidFieldName, field)
	}
	index := col.GetFreeIndex()
	if index == nil {
		return nil, fmt.Errorf("%w: collection %q already has %d indexes", flushmanager.ErrIndexLimitExceeded, col.CollectionName, pagemanager.MaxIndexes)
	}
	index.Field = field
	index.Options = opts
	index.FreeIndexPageID = pagemanager.NoPage

	head, err := ix.storeNode(index, indexkey.MinValue(), pagemanager.EmptyPosition, pagemanager.MaxLevelLength)
	if err != nil {
		index.Clear()
		return nil, err
	}
	index.HeadNode = head.Position
	ix.pager.SetDirty(col)
	ix.logger.Debug("index created", zap.String("collection", col.CollectionName), zap.String("field", field), zap.Uint8("slot", index.Slot))
	return index, nil
}

// flipCoin returns a level between 1 and MaxLevelLength-1 with a geometric
// distribution (p = 1/2).
func (ix *Indexer) flipCoin() int {
	level := 1
	for r := ix.rnd.Uint64(); r&1 == 1 && level < pagemanager.MaxLevelLength-1; r >>= 1 {
		level++
	}
	return level
}

// AddNode inserts key pointing at dataBlock. Equal keys in a non-unique index
// keep insertion order. On ErrIndexDuplicateKey the index is left with an
// unlinked node, so the caller must roll the transaction back.
func (ix *Indexer) AddNode(index *pagemanager.CollectionIndex, key indexkey.Key, dataBlock pagemanager.Position) (*pagemanager.IndexNode, error) {
	key = Normalize(index.Options, key)
	node, err := ix.storeNode(index, key, dataBlock, ix.flipCoin())
	if err != nil {
		return nil, err
	}

	cur, err := ix.GetNode(index.HeadNode)
	if err != nil {
		return nil, err
	}
	for level := pagemanager.MaxLevelLength - 1; level >= 0; level-- {
		for !cur.Next[level].IsEmpty() {
			next, err := ix.GetNode(cur.Next[level])
			if err != nil {
				return nil, err
			}
			diff := ix.compare(next.Key, key)
			if diff == 0 && index.Options.Unique {
				return nil, fmt.Errorf("%w: index %q key %s", flushmanager.ErrIndexDuplicateKey, index.Field, key)
			}
			if diff > 0 {
				break
			}
			cur = next
		}

		if level < node.Levels() {
			node.Next[level] = cur.Next[level]
			node.Prev[level] = cur.Position
			cur.Next[level] = node.Position
			ix.pager.SetDirty(cur.Page)

			if !node.Next[level].IsEmpty() {
				next, err := ix.GetNode(node.Next[level])
				if err != nil {
					return nil, err
				}
				next.Prev[level] = node.Position
				ix.pager.SetDirty(next.Page)
			}
		}
	}
	return node, nil
}

// storeNode places an unlinked node in a page from the index's free list.
func (ix *Indexer) storeNode(index *pagemanager.CollectionIndex, key indexkey.Key, dataBlock pagemanager.Position, levels int) (*pagemanager.IndexNode, error) {
	if n := key.EncodedLen(); n > pagemanager.MaxIndexKeyLength {
		return nil, fmt.Errorf("%w: index %q key is %d bytes, limit %d", flushmanager.ErrIndexKeyTooLong, index.Field, n, pagemanager.MaxIndexKeyLength)
	}
	node := pagemanager.NewIndexNode(levels)
	node.Slot = index.Slot
	node.Key = key
	node.DataBlock = dataBlock

	page, err := pager.GetFreePage[*pagemanager.IndexPage](ix.pager, index.FreeIndexPageID, node.Length())
	if err != nil {
		return nil, err
	}
	page.AddNode(node)
	ix.pager.SetDirty(page)

	if err := ix.pager.AddOrRemoveToFreeList(page.FreeBytes > pagemanager.IndexReservedBytes, page, index.Page, &index.FreeIndexPageID); err != nil {
		return nil, err
	}
	return node, nil
}

// GetNode resolves a node position; an empty position yields nil.
func (ix *Indexer) GetNode(pos pagemanager.Position) (*pagemanager.IndexNode, error) {
	if pos.IsEmpty() {
		return nil, nil
	}
	page, err := pager.GetTypedPage[*pagemanager.IndexPage](ix.pager, pos.PageID)
	if err != nil {
		return nil, err
	}
	return page.GetNode(pos.Index)
}

// Delete unlinks the node at pos from every level and frees its slot. An index
// page left without nodes is returned to the empty page list.
func (ix *Indexer) Delete(index *pagemanager.CollectionIndex, pos pagemanager.Position) error {
	if pos == index.HeadNode {
		return fmt.Errorf("%w: the head node of index %q cannot be deleted", flushmanager.ErrInvalidPageData, index.Field)
	}
	node, err := ix.GetNode(pos)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("%w: no index node at %s", flushmanager.ErrInvalidPageData, pos)
	}

	for level := node.Levels() - 1; level >= 0; level-- {
		prev, err := ix.GetNode(node.Prev[level])
		if err != nil {
			return err
		}
		next, err := ix.GetNode(node.Next[level])
		if err != nil {
			return err
		}
		if prev != nil {
			prev.Next[level] = node.Next[level]
			ix.pager.SetDirty(prev.Page)
		}
		if next != nil {
			next.Prev[level] = node.Prev[level]
			ix.pager.SetDirty(next.Page)
		}
	}

	page := node.Page
	page.DeleteNode(pos.Index)
	ix.pager.SetDirty(page)

	if len(page.Nodes) == 0 {
		if err := ix.pager.AddOrRemoveToFreeList(false, page, index.Page, &index.FreeIndexPageID); err != nil {
			return err
		}
		return ix.pager.DeletePage(page.PageID, false)
	}
	return ix.pager.AddOrRemoveToFreeList(page.FreeBytes > pagemanager.IndexReservedBytes, page, index.Page, &index.FreeIndexPageID)
}

// IndexPageIDs lists every page holding a node of index, head included.
func (ix *Indexer) IndexPageIDs(index *pagemanager.CollectionIndex) ([]pagemanager.PageID, error) {
	seen := make(map[pagemanager.PageID]struct{})
	var ids []pagemanager.PageID
	err := ix.walk(index.HeadNode, func(n *pagemanager.IndexNode) bool {
		if _, ok := seen[n.Position.PageID]; !ok {
			seen[n.Position.PageID] = struct{}{}
			ids = append(ids, n.Position.PageID)
		}
		return true
	})
	return ids, err
}

// DropIndex deletes every page of a secondary index and frees its slot.
func (ix *Indexer) DropIndex(col *pagemanager.CollectionPage, index *pagemanager.CollectionIndex) error {
	if index.Slot == 0 {
		return flushmanager.ErrIndexDropPrimaryKey
	}
	ids, err := ix.IndexPageIDs(index)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ix.pager.DeletePage(id, false); err != nil {
			return err
		}
	}
	ix.logger.Debug("index dropped", zap.String("collection", col.CollectionName), zap.String("field", index.Field), zap.Int("pages", len(ids)))
	index.Clear()
	ix.pager.SetDirty(col)
	return nil
}
