package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	"github.com/sushant-115/gojolite/core/indexing/skiplist"
	"github.com/sushant-115/gojolite/core/storage_engine/collection"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// StreamsCollection holds the metadata of stored streams. Document calls
// cannot address it.
const StreamsCollection = "_streams"

// --- Documents ---

// Insert stores doc in col, creating the collection on first use. doc is
// anything bson.Marshal accepts, or a bson.Raw. A missing _id is filled with
// a new ObjectID; the stored _id is returned.
func (e *Engine) Insert(ctx context.Context, col string, doc any) (bson.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return bson.RawValue{}, err
	}
	raw, err := marshalDocument(doc)
	if err != nil {
		return bson.RawValue{}, err
	}
	raw, id, err := withID(raw)
	if err != nil {
		return bson.RawValue{}, err
	}
	err = e.write(ctx, func() error {
		return e.insert(col, raw, id)
	})
	return id, err
}

// InsertMany stores every document in one transaction.
func (e *Engine) InsertMany(ctx context.Context, col string, docs []any) ([]bson.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return nil, err
	}
	raws := make([]bson.Raw, len(docs))
	ids := make([]bson.RawValue, len(docs))
	for i, doc := range docs {
		raw, err := marshalDocument(doc)
		if err != nil {
			return nil, err
		}
		if raws[i], ids[i], err = withID(raw); err != nil {
			return nil, err
		}
	}
	err := e.write(ctx, func() error {
		for i := range raws {
			if err := e.insert(col, raws[i], ids[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) insert(name string, raw bson.Raw, id bson.RawValue) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}
	col, err := e.collection(name, true)
	if err != nil {
		return err
	}
	block, err := e.store.Insert(col, raw)
	if err != nil {
		return err
	}

	if _, err := e.indexer.AddNode(col.PK(), key, block.Position); err != nil {
		return err
	}
	for _, index := range col.GetIndexes(false) {
		k, err := fieldKey(raw, index.Field)
		if err != nil {
			return err
		}
		if _, err := e.indexer.AddNode(index, k, block.Position); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces the document with the same _id as doc. It reports false
// when no such document exists.
func (e *Engine) Update(ctx context.Context, col string, doc any) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	raw, err := marshalDocument(doc)
	if err != nil {
		return false, err
	}
	id, err := raw.LookupErr(collection.PrimaryKeyField)
	if err != nil {
		return false, fmt.Errorf("%w: document has no _id", flushmanager.ErrInvalidDocumentID)
	}
	key, err := documentKey(id)
	if err != nil {
		return false, err
	}

	var found bool
	err = e.write(ctx, func() error {
		var err error
		found, err = e.update(col, key, raw)
		return err
	})
	return found, err
}

func (e *Engine) update(name string, key indexkey.Key, raw bson.Raw) (bool, error) {
	col, err := e.collection(name, false)
	if err != nil || col == nil {
		return false, err
	}
	node, err := e.indexer.FindOne(col.PK(), key)
	if err != nil || node == nil {
		return false, err
	}
	pos := node.DataBlock
	old, err := e.readDocument(pos)
	if err != nil {
		return false, err
	}
	if _, err := e.store.Update(col, pos, raw); err != nil {
		return false, err
	}

	for _, index := range col.GetIndexes(false) {
		oldKey, err := fieldKey(old, index.Field)
		if err != nil {
			return false, err
		}
		newKey, err := fieldKey(raw, index.Field)
		if err != nil {
			return false, err
		}
		if e.indexer.KeysEqual(index, oldKey, newKey) {
			continue
		}
		if err := e.deleteIndexEntry(index, oldKey, pos); err != nil {
			return false, err
		}
		if _, err := e.indexer.AddNode(index, newKey, pos); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Delete removes the document with the given _id and reports whether it
// existed.
func (e *Engine) Delete(ctx context.Context, col string, id any) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return false, err
	}
	key, err := indexkey.FromValue(id)
	if err != nil {
		return false, err
	}
	var found bool
	err = e.write(ctx, func() error {
		var err error
		found, err = e.delete(col, key)
		return err
	})
	return found, err
}

func (e *Engine) delete(name string, key indexkey.Key) (bool, error) {
	col, err := e.collection(name, false)
	if err != nil || col == nil {
		return false, err
	}
	node, err := e.indexer.FindOne(col.PK(), key)
	if err != nil || node == nil {
		return false, err
	}
	pos := node.DataBlock
	doc, err := e.readDocument(pos)
	if err != nil {
		return false, err
	}

	for _, index := range col.GetIndexes(false) {
		k, err := fieldKey(doc, index.Field)
		if err != nil {
			return false, err
		}
		if err := e.deleteIndexEntry(index, k, pos); err != nil {
			return false, err
		}
	}
	if err := e.indexer.Delete(col.PK(), node.Position); err != nil {
		return false, err
	}
	if _, err := e.store.Delete(col, pos); err != nil {
		return false, err
	}
	return true, nil
}

// deleteIndexEntry removes the node of index that has key and points at pos.
func (e *Engine) deleteIndexEntry(index *pagemanager.CollectionIndex, key indexkey.Key, pos pagemanager.Position) error {
	nodes, err := e.indexer.FindEquals(index, key)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.DataBlock == pos {
			return e.indexer.Delete(index, n.Position)
		}
	}
	return fmt.Errorf("%w: index %q has no entry for %s", flushmanager.ErrInvalidPageData, index.Field, pos)
}

// FindByID returns the document with the given _id or ErrDocumentNotFound.
func (e *Engine) FindByID(col string, id any) (bson.Raw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return nil, err
	}
	key, err := indexkey.FromValue(id)
	if err != nil {
		return nil, err
	}

	var doc bson.Raw
	err = e.read(func() error {
		c, err := e.collection(col, false)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %q", flushmanager.ErrCollectionNotFound, col)
		}
		node, err := e.indexer.FindOne(c.PK(), key)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("%w: %s in %q", flushmanager.ErrDocumentNotFound, key, col)
		}
		doc, err = e.readDocument(node.DataBlock)
		return err
	})
	return doc, err
}

// Find runs q against the index on field and returns the matching documents
// in index order. A missing collection yields no documents.
func (e *Engine) Find(col, field string, q skiplist.Query) ([]bson.Raw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return nil, err
	}

	var docs []bson.Raw
	err := e.read(func() error {
		c, err := e.collection(col, false)
		if err != nil || c == nil {
			return err
		}
		index := c.GetIndex(field)
		if index == nil {
			return fmt.Errorf("%w: %q on %q", flushmanager.ErrIndexNotFound, field, col)
		}
		nodes, err := q.Run(e.indexer, index)
		if err != nil {
			return err
		}
		docs = make([]bson.Raw, 0, len(nodes))
		for _, n := range nodes {
			doc, err := e.readDocument(n.DataBlock)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// Count returns the number of documents in col.
func (e *Engine) Count(col string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkUserCollection(col); err != nil {
		return 0, err
	}
	var n uint64
	err := e.read(func() error {
		c, err := e.collection(col, false)
		if c != nil {
			n = c.DocumentCount
		}
		return err
	})
	return n, err
}

// --- Helpers ---

func (e *Engine) readDocument(pos pagemanager.Position) (bson.Raw, error) {
	block, err := e.store.Read(pos, true)
	if err != nil {
		return nil, err
	}
	// Inline data aliases the cached page.
	return bson.Raw(bytes.Clone(block.Data)), nil
}

// collection returns the named collection, adding it when create is set.
// It returns nil without error when the collection is missing.
func (e *Engine) collection(name string, create bool) (*pagemanager.CollectionPage, error) {
	col, err := e.collections.Get(name)
	if err != nil || col != nil || !create {
		return col, err
	}
	e.logger.Debug("creating collection on first write", zap.String("collection", name))
	return e.collections.Add(name)
}

func checkUserCollection(name string) error {
	if strings.EqualFold(name, StreamsCollection) {
		return fmt.Errorf("%w: %q is reserved for streams", flushmanager.ErrInvalidCollectionName, name)
	}
	if !collection.ValidName(name) {
		return fmt.Errorf("%w: %q", flushmanager.ErrInvalidCollectionName, name)
	}
	return nil
}

func marshalDocument(doc any) (bson.Raw, error) {
	if raw, ok := doc.(bson.Raw); ok {
		if err := raw.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", flushmanager.ErrSerialization, err)
		}
		return raw, nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flushmanager.ErrSerialization, err)
	}
	return data, nil
}

// withID returns raw with an _id, generating an ObjectID first in the
// document when it has none.
func withID(raw bson.Raw) (bson.Raw, bson.RawValue, error) {
	if id, err := raw.LookupErr(collection.PrimaryKeyField); err == nil {
		return raw, id, nil
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, bson.RawValue{}, fmt.Errorf("%w: %v", flushmanager.ErrSerialization, err)
	}
	d = append(bson.D{{Key: collection.PrimaryKeyField, Value: primitive.NewObjectID()}}, d...)
	out, err := bson.Marshal(d)
	if err != nil {
		return nil, bson.RawValue{}, fmt.Errorf("%w: %v", flushmanager.ErrSerialization, err)
	}
	return out, bson.Raw(out).Lookup(collection.PrimaryKeyField), nil
}

// documentKey converts an _id into its primary key.
func documentKey(id bson.RawValue) (indexkey.Key, error) {
	key, err := indexkey.FromRawValue(id)
	if err != nil {
		return indexkey.Key{}, fmt.Errorf("%w: %v", flushmanager.ErrInvalidDocumentID, err)
	}
	switch key.Type() {
	case indexkey.TypeNull, indexkey.TypeMinValue, indexkey.TypeMaxValue:
		return indexkey.Key{}, fmt.Errorf("%w: got %s", flushmanager.ErrInvalidDocumentID, key.Type())
	}
	return key, nil
}

// fieldKey extracts the value at a dotted path. A path that does not
// resolve indexes as null.
func fieldKey(doc bson.Raw, field string) (indexkey.Key, error) {
	v, err := doc.LookupErr(strings.Split(field, ".")...)
	if err != nil {
		return indexkey.Null(), nil
	}
	key, err := indexkey.FromRawValue(v)
	if err != nil {
		return indexkey.Key{}, fmt.Errorf("field %q: %w", field, err)
	}
	return key, nil
}
