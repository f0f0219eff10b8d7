package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/storage_engine/common"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
)

// Backup copies the committed state of the data file to dstPath, at most
// rateBytesPerSec bytes per second (unlimited when <= 0). The file lock is
// held during the copy, so other writers wait for it. Changes of an open
// transaction are not part of the copy.
func (e *Engine) Backup(ctx context.Context, dstPath string, rateBytesPerSec int64) (common.CopyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return common.CopyResult{}, flushmanager.ErrEngineClosed
	}
	src, err := filepath.Abs(e.disk.FilePath())
	if err != nil {
		return common.CopyResult{}, err
	}
	dst, err := filepath.Abs(dstPath)
	if err != nil {
		return common.CopyResult{}, err
	}
	if src == dst {
		return common.CopyResult{}, fmt.Errorf("backup destination %s is the data file itself", dstPath)
	}

	if err := e.txn.Begin(ctx); err != nil {
		return common.CopyResult{}, err
	}
	res, err := common.CopyThrottled(ctx, src, dst, rateBytesPerSec)
	if cerr := e.txn.Commit(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return common.CopyResult{}, fmt.Errorf("backup to %s: %w", dstPath, err)
	}
	e.logger.Info("backup written",
		zap.String("destination", dst),
		zap.Int64("bytes", res.Bytes),
		zap.String("sha256", hex.EncodeToString(res.SHA256[:])))
	return res, nil
}
