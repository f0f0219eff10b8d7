package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// StreamInfo is the metadata document kept for every stored stream.
type StreamInfo struct {
	ID          string    `bson:"_id"`
	Filename    string    `bson:"filename"`
	Length      int64     `bson:"length"`
	FirstPageID int64     `bson:"first_page_id"`
	UploadDate  time.Time `bson:"upload_date"`
}

// --- Streams ---

// StoreStream copies r into the file under id, replacing a stream stored
// under the same id. The content never passes through the page cache.
func (e *Engine) StoreStream(ctx context.Context, id, filename string, r io.Reader) (StreamInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		return StreamInfo{}, fmt.Errorf("%w: stream id is empty", flushmanager.ErrInvalidDocumentID)
	}

	var info StreamInfo
	err := e.write(ctx, func() error {
		if _, err := e.deleteStream(id); err != nil {
			return err
		}
		first, n, err := e.store.StoreStreamData(r)
		if err != nil {
			return err
		}
		info = StreamInfo{
			ID:          id,
			Filename:    filename,
			Length:      n,
			FirstPageID: int64(first),
			UploadDate:  time.Now().UTC().Truncate(time.Millisecond),
		}
		raw, err := bson.Marshal(info)
		if err != nil {
			return fmt.Errorf("%w: %v", flushmanager.ErrSerialization, err)
		}
		return e.insert(StreamsCollection, raw, bson.Raw(raw).Lookup("_id"))
	})
	if err != nil {
		return StreamInfo{}, err
	}
	e.logger.Debug("stream stored", zap.String("stream_id", id), zap.Int64("length", info.Length))
	return info, nil
}

// OpenStream returns a reader over the stream stored under id. The reader
// reads from the file directly and fails once the engine is closed.
func (e *Engine) OpenStream(id string) (io.Reader, StreamInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var info *StreamInfo
	err := e.read(func() error {
		var err error
		info, err = e.findStream(id)
		return err
	})
	if err != nil {
		return nil, StreamInfo{}, err
	}
	if info == nil {
		return nil, StreamInfo{}, fmt.Errorf("%w: stream %q", flushmanager.ErrDocumentNotFound, id)
	}
	return e.store.ReadStreamData(pagemanager.PageID(info.FirstPageID)), *info, nil
}

// DeleteStream removes the stream stored under id and reports whether it
// existed.
func (e *Engine) DeleteStream(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var deleted bool
	err := e.write(ctx, func() error {
		var err error
		deleted, err = e.deleteStream(id)
		return err
	})
	return deleted, err
}

// ListStreams returns the metadata of every stream ordered by id.
func (e *Engine) ListStreams() ([]StreamInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []StreamInfo
	err := e.read(func() error {
		col, err := e.collection(StreamsCollection, false)
		if err != nil || col == nil {
			return err
		}
		nodes, err := e.indexer.FindAll(col.PK())
		if err != nil {
			return err
		}
		for _, n := range nodes {
			info, err := e.readStreamInfo(n.DataBlock)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

func (e *Engine) deleteStream(id string) (bool, error) {
	info, err := e.findStream(id)
	if err != nil || info == nil {
		return false, err
	}
	if err := e.store.DeleteStreamData(pagemanager.PageID(info.FirstPageID)); err != nil {
		return false, err
	}
	return e.delete(StreamsCollection, indexkey.String(id))
}

func (e *Engine) findStream(id string) (*StreamInfo, error) {
	col, err := e.collection(StreamsCollection, false)
	if err != nil || col == nil {
		return nil, err
	}
	node, err := e.indexer.FindOne(col.PK(), indexkey.String(id))
	if err != nil || node == nil {
		return nil, err
	}
	info, err := e.readStreamInfo(node.DataBlock)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (e *Engine) readStreamInfo(pos pagemanager.Position) (StreamInfo, error) {
	var info StreamInfo
	doc, err := e.readDocument(pos)
	if err != nil {
		return info, err
	}
	if err := bson.Unmarshal(doc, &info); err != nil {
		return info, fmt.Errorf("%w: stream metadata at %s: %v", flushmanager.ErrDeserialization, pos, err)
	}
	return info, nil
}
