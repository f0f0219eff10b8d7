package skiplist

import (
	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// Query selects index nodes of one index.
type Query interface {
	Run(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error)
}

type queryFunc func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error)

func (f queryFunc) Run(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
	return f(ix, index)
}

func All() Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindAll(index)
	})
}

func EQ(key indexkey.Key) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindEquals(index, key)
	})
}

func GT(key indexkey.Key) Query  { return greater(key, false) }
func GTE(key indexkey.Key) Query { return greater(key, true) }
func LT(key indexkey.Key) Query  { return less(key, false) }
func LTE(key indexkey.Key) Query { return less(key, true) }

func greater(key indexkey.Key, inclusive bool) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindGreaterThan(index, key, inclusive)
	})
}

func less(key indexkey.Key, inclusive bool) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindLessThan(index, key, inclusive)
	})
}

// Between matches keys in the closed range [start, end].
func Between(start, end indexkey.Key) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindBetween(index, start, end, true, true)
	})
}

func StartsWith(prefix string) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindStartsWith(index, prefix)
	})
}

func In(keys ...indexkey.Key) Query {
	return queryFunc(func(ix *Indexer, index *pagemanager.CollectionIndex) ([]*pagemanager.IndexNode, error) {
		return ix.FindIn(index, keys...)
	})
}
