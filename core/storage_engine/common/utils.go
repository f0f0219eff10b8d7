package common

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyResult describes a finished copy.
type CopyResult struct {
	Bytes  int64
	SHA256 [sha256.Size]byte
}

// CopyThrottled copies srcPath to dstPath at no more than rateBytesPerSec
// (unlimited when <= 0). The copy is written to a temporary file next to
// dstPath and renamed into place once synced, so dstPath is either the old
// file or a complete copy.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, rateBytesPerSec int64) (CopyResult, error) {
	var res CopyResult

	src, err := os.Open(srcPath)
	if err != nil {
		return res, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	tmpPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return res, fmt.Errorf("open dst: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize) // burst = chunkSize
	}

	sum := sha256.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, rerr := src.ReadAt(buf[:chunkSize], res.Bytes)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return res, fmt.Errorf("rate limiter: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return res, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			res.Bytes += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return res, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return res, fmt.Errorf("sync error: %w", err)
	}
	if err := dst.Close(); err != nil {
		return res, fmt.Errorf("close error: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		done = true
		return res, fmt.Errorf("rename error: %w", err)
	}
	done = true
	copy(res.SHA256[:], sum.Sum(nil))
	return res, nil
}
