package skiplist

import (
	"slices"
	"strings"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// --- Traversal ---

// walk visits the node at from and then its level-0 successors until fn
// returns false.
func (ix *Indexer) walk(from pagemanager.Position, fn func(*pagemanager.IndexNode) bool) error {
	node, err := ix.GetNode(from)
	if err != nil || node == nil {
		return err
	}
	if !fn(node) {
		return nil
	}
	for !node.Next[0].IsEmpty() {
		node, err = ix.GetNode(node.Next[0])
		if err != nil {
			return err
		}
		if !fn(node) {
			return nil
		}
	}
	return nil
}

// collect gathers nodes starting at start while keep returns true.
func (ix *Indexer) collect(start *pagemanager.IndexNode, keep func(*pagemanager.IndexNode) bool) ([]*pagemanager.IndexNode, error) {
	if start == nil {
		return nil, nil
	}
	var out []*pagemanager.IndexNode
	err := ix.walk(start.Position, func(n *pagemanager.IndexNode) bool {
		if !keep(n) {
			return false
		}
		out = append(out, n)
		return true
	})
	return out, err
}

func filterNodes(nodes []*pagemanager.IndexNode, err error, keep func(*pagemanager.IndexNode) bool) ([]*pagemanager.IndexNode, error) {
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// find descends from the head node looking for key. It returns the first node
// equal to key (the boundary node when the index has duplicates). When no node
// matches and sibling is set, it returns the first node greater than key.
func (ix *Indexer) find(index *pagemanager.CollectionIndex, key indexkey.Key, sibling bool) (*pagemanager.IndexNode, error) {
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
			if diff == 0 {
				if index.Options.Unique {
					return next, nil
				}
				return ix.boundary(index, next)
			}
			if diff > 0 {
				if level == 0 && sibling {
					return next, nil
				}
				break
			}
			cur = next
		}
	}
	return nil, nil
}

// boundary walks back along level 0 to the first node with node's key.
func (ix *Indexer) boundary(index *pagemanager.CollectionIndex, node *pagemanager.IndexNode) (*pagemanager.IndexNode, error) {
	for node.Prev[0] != index.HeadNode && !node.Prev[0].IsEmpty() {
		prev, err := ix.GetNode(node.Prev[0])
		if err != nil {
			return nil, err
		}
		if ix.compare(prev.Key, node.Key) != 0 {
			break
		}
		node = prev
	}
	return node, nil
}

// --- Lookups ---

// FindAll returns every node of index in ascending key order.
func (ix *Indexer) FindAll(index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
	head, err := ix.GetNode(index.HeadNode)
	if err != nil || head.Next[0].IsEmpty() {
		return nil, err
	}
	first, err := ix.GetNode(head.Next[0])
	if err != nil {
		return nil, err
	}
	return ix.collect(first, func(*pagemanager.IndexNode) bool { return true })
}

// FindOne returns the first node equal to key, or nil.
func (ix *Indexer) FindOne(index *pagemanager.CollectionIndex, key indexkey.Key) (*pagemanager.IndexNode, error) {
	return ix.find(index, Normalize(index.Options, key), false)
}

// FindEquals returns all nodes equal to key in insertion order.
func (ix *Indexer) FindEquals(index *pagemanager.CollectionIndex, key indexkey.Key) ([]*pagemanager.IndexNode, error) {
	key = Normalize(index.Options, key)
	first, err := ix.find(index, key, false)
	if err != nil {
		return nil, err
	}
	return ix.collect(first, func(n *pagemanager.IndexNode) bool { return ix.compare(n.Key, key) == 0 })
}

// FindGreaterThan returns nodes with keys above key (or equal, when
// inclusive), MaxValue excluded.
func (ix *Indexer) FindGreaterThan(index *pagemanager.CollectionIndex, key indexkey.Key, inclusive bool) ([]*pagemanager.IndexNode, error) {
	key = Normalize(index.Options, key)
	first, err := ix.find(index, key, true)
	if err != nil {
		return nil, err
	}
	nodes, err := ix.collect(first, func(n *pagemanager.IndexNode) bool {
		return n.Key.Type() != indexkey.TypeMaxValue
	})
	return filterNodes(nodes, err, func(n *pagemanager.IndexNode) bool {
		return inclusive || ix.compare(n.Key, key) != 0
	})
}

// FindLessThan returns nodes with keys below key (or equal, when inclusive),
// MinValue excluded.
func (ix *Indexer) FindLessThan(index *pagemanager.CollectionIndex, key indexkey.Key, inclusive bool) ([]*pagemanager.IndexNode, error) {
	key = Normalize(index.Options, key)
	head, err := ix.GetNode(index.HeadNode)
	if err != nil || head.Next[0].IsEmpty() {
		return nil, err
	}
	first, err := ix.GetNode(head.Next[0])
	if err != nil {
		return nil, err
	}
	nodes, err := ix.collect(first, func(n *pagemanager.IndexNode) bool {
		diff := ix.compare(n.Key, key)
		return diff < 0 || (inclusive && diff == 0)
	})
	return filterNodes(nodes, err, func(n *pagemanager.IndexNode) bool {
		return n.Key.Type() != indexkey.TypeMinValue
	})
}

// FindBetween returns nodes with keys in the range [start, end]; the bounds
// are swapped when start > end.
func (ix *Indexer) FindBetween(index *pagemanager.CollectionIndex, start, end indexkey.Key, startInclusive, endInclusive bool) ([]*pagemanager.IndexNode, error) {
	start, end = Normalize(index.Options, start), Normalize(index.Options, end)
	if ix.compare(start, end) > 0 {
		start, end = end, start
		startInclusive, endInclusive = endInclusive, startInclusive
	}
	first, err := ix.find(index, start, true)
	if err != nil {
		return nil, err
	}
	nodes, err := ix.collect(first, func(n *pagemanager.IndexNode) bool {
		diff := ix.compare(n.Key, end)
		return diff < 0 || (endInclusive && diff == 0)
	})
	return filterNodes(nodes, err, func(n *pagemanager.IndexNode) bool {
		return startInclusive || ix.compare(n.Key, start) != 0
	})
}

// FindStartsWith returns string keys beginning with prefix.
func (ix *Indexer) FindStartsWith(index *pagemanager.CollectionIndex, prefix string) ([]*pagemanager.IndexNode, error) {
	key := Normalize(index.Options, indexkey.String(prefix))
	if key.Type() != indexkey.TypeString {
		return nil, nil
	}
	first, err := ix.find(index, key, true)
	if err != nil {
		return nil, err
	}
	return ix.collect(first, func(n *pagemanager.IndexNode) bool {
		return n.Key.Type() == indexkey.TypeString && ix.hasPrefix(n.Key.Str(), key.Str())
	})
}

// hasPrefix reports whether some leading part of s, cut at a rune boundary,
// equals prefix under the collation. The matching part may differ from
// prefix in byte length ("é" against "e" when diacritics are ignored).
func (ix *Indexer) hasPrefix(s, prefix string) bool {
	if strings.HasPrefix(s, prefix) {
		return true
	}
	for i := range s {
		if i > 0 && ix.collation.CompareString(s[:i], prefix) == 0 {
			return true
		}
	}
	return ix.collation.CompareString(s, prefix) == 0
}

// FindIn returns the nodes equal to any of keys, grouped by key in ascending
// key order, each key at most once.
func (ix *Indexer) FindIn(index *pagemanager.CollectionIndex, keys ...indexkey.Key) ([]*pagemanager.IndexNode, error) {
	normalized := make([]indexkey.Key, 0, len(keys))
	for _, k := range keys {
		normalized = append(normalized, Normalize(index.Options, k))
	}
	slices.SortFunc(normalized, ix.compare)
	normalized = slices.CompactFunc(normalized, func(a, b indexkey.Key) bool { return ix.compare(a, b) == 0 })

	var out []*pagemanager.IndexNode
	for _, k := range normalized {
		nodes, err := ix.FindEquals(index, k)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}
