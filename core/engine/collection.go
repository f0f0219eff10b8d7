package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/storage_engine/collection"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// IndexInfo describes one index of a collection.
type IndexInfo struct {
	Slot    int
	Field   string
	Options pagemanager.IndexOptions
}

// --- Collections ---

// GetCollectionNames lists the user collections in creation order.
func (e *Engine) GetCollectionNames() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	err := e.read(func() error {
		cols, err := e.collections.GetAll()
		if err != nil {
			return err
		}
		for _, c := range cols {
			if !strings.EqualFold(c.CollectionName, StreamsCollection) {
				names = append(names, c.CollectionName)
			}
		}
		return nil
	})
	return names, err
}

// DropCollection deletes col with all of its documents and indexes. It
// reports false when the collection does not exist.
func (e *Engine) DropCollection(ctx context.Context, col string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	var dropped bool
	err := e.write(ctx, func() error {
		c, err := e.collection(col, false)
		if err != nil || c == nil {
			return err
		}
		if err := e.collections.Drop(c); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	if dropped && err == nil {
		e.logger.Info("collection dropped", zap.String("collection", col))
	}
	return dropped, err
}

// RenameCollection renames col to newName. It reports false when col does
// not exist and fails when newName is taken.
func (e *Engine) RenameCollection(ctx context.Context, col, newName string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	if err := checkUserCollection(newName); err != nil {
		return false, err
	}
	var renamed bool
	err := e.write(ctx, func() error {
		c, err := e.collection(col, false)
		if err != nil || c == nil {
			return err
		}
		if err := e.collections.Rename(c, newName); err != nil {
			return err
		}
		renamed = true
		return nil
	})
	return renamed, err
}

// --- Indexes ---

// EnsureIndex creates an index on field and fills it from the existing
// documents. It returns false when an identical index already exists and
// ErrIndexAlreadyExists when one with other options does.
func (e *Engine) EnsureIndex(ctx context.Context, col, field string, opts pagemanager.IndexOptions) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	if field == collection.PrimaryKeyField {
		return false, nil
	}

	var created bool
	err := e.write(ctx, func() error {
		c, err := e.collection(col, true)
		if err != nil {
			return err
		}
		if existing := c.GetIndex(field); existing != nil {
			if existing.Options != opts {
				return fmt.Errorf("%w: %q on %q", flushmanager.ErrIndexAlreadyExists, field, col)
			}
			return nil
		}

		index, err := e.indexer.CreateIndex(c, field, opts)
		if err != nil {
			return err
		}
		nodes, err := e.indexer.FindAll(c.PK())
		if err != nil {
			return err
		}
		for _, n := range nodes {
			doc, err := e.readDocument(n.DataBlock)
			if err != nil {
				return err
			}
			key, err := fieldKey(doc, field)
			if err != nil {
				return err
			}
			if _, err := e.indexer.AddNode(index, key, n.DataBlock); err != nil {
				return err
			}
		}
		e.logger.Debug("index built", zap.String("collection", col), zap.String("field", field), zap.Int("documents", len(nodes)))
		created = true
		return nil
	})
	return created, err
}

// DropIndex removes the index on field. It reports false when there is no
// such index; the _id index cannot be dropped.
func (e *Engine) DropIndex(ctx context.Context, col, field string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	var dropped bool
	err := e.write(ctx, func() error {
		c, err := e.collection(col, false)
		if err != nil || c == nil {
			return err
		}
		index := c.GetIndex(field)
		if index == nil {
			return nil
		}
		if err := e.indexer.DropIndex(c, index); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	return dropped, err
}

// GetIndexes lists the indexes of col, _id first.
func (e *Engine) GetIndexes(col string) ([]IndexInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return nil, err
	}
	var out []IndexInfo
	err := e.read(func() error {
		c, err := e.collection(col, false)
		if err != nil || c == nil {
			return err
		}
		for _, index := range c.GetIndexes(true) {
			out = append(out, IndexInfo{Slot: int(index.Slot), Field: index.Field, Options: index.Options})
		}
		return nil
	})
	return out, err
}
