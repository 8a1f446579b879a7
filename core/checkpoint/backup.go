package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"golang.org/x/time/rate"
)

// copyChunkSize is the read/write unit of CopySnapshot.
const copyChunkSize = 1 << 20

var copyBufPool = sync.Pool{
	New: func() any { return make([]byte, copyChunkSize) },
}

// BackupResult describes a copied snapshot.
type BackupResult struct {
	Path   string
	Bytes  int64
	SHA256 string
}

// CopySnapshot copies the installed snapshot at src to dst, throttled to
// bytesPerSec (0 for no limit). The copy is written next to dst and renamed
// into place once synced. Because snapshots are replaced by rename, a copy
// that overlaps a checkpoint still reads one complete snapshot.
func CopySnapshot(ctx context.Context, src, dst string, bytesPerSec int64) (BackupResult, error) {
	in, err := os.Open(src)
	if err != nil {
		return BackupResult{}, fmt.Errorf("%w: open snapshot %s: %v", flushmanager.ErrIO, src, err)
	}
	defer in.Close()

	tmp := dst + tempSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return BackupResult{}, fmt.Errorf("%w: create backup %s: %v", flushmanager.ErrIO, tmp, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		// The burst covers one chunk so a single wait never exceeds it.
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), copyChunkSize)
	}

	sum := sha256.New()
	buf := copyBufPool.Get().([]byte)
	defer copyBufPool.Put(buf)

	var total int64
	for {
		chunk := buf[:copyChunkSize]
		n, rerr := in.Read(chunk)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return BackupResult{}, fmt.Errorf("backup rate limiter: %w", err)
				}
			}
			if _, err := out.Write(chunk[:n]); err != nil {
				return BackupResult{}, fmt.Errorf("%w: write backup: %v", flushmanager.ErrIO, err)
			}
			sum.Write(chunk[:n])
			total += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return BackupResult{}, fmt.Errorf("%w: read snapshot: %v", flushmanager.ErrIO, rerr)
		}
	}

	if err := out.Sync(); err != nil {
		return BackupResult{}, fmt.Errorf("%w: sync backup: %v", flushmanager.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		return BackupResult{}, fmt.Errorf("%w: close backup: %v", flushmanager.ErrIO, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return BackupResult{}, fmt.Errorf("%w: install backup %s: %v", flushmanager.ErrIO, dst, err)
	}
	committed = true

	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return BackupResult{Path: abs, Bytes: total, SHA256: hex.EncodeToString(sum.Sum(nil))}, nil
}
