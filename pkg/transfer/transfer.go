// Package transfer implements the range-capable resumable downloader
// (C1): completes one URL -> file transfer, transparently continuing a
// partial transfer via HTTP Range GETs when the server supports them,
// and retrying transient transport errors in place.
package transfer

import (
	"context"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/netshift/pkg/transport"
)

// Record is the outcome of one Transfer call.
type Record struct {
	ElapsedSeconds float64
	BytesWritten   int64
	UsedRange      bool
	Retried        bool
}

const (
	headTimeout = 30 * time.Second
)

func bulkTimeouts() transport.Timeouts {
	return transport.Timeouts{Connect: 30 * time.Second, Read: 600 * time.Second}
}

// Transfer completes url -> dst, using Range continuation when the
// server supports it, and retrying transient errors per cfg. It never
// returns a partially-cleaned-up dst on error: resuming later is by
// design.
func Transfer(ctx context.Context, tr transport.Transport, fs afero.Fs, url, dst string, cfg RetryConfig) (Record, error) {
	var rec Record

	head, err := withRetry(ctx, cfg, func() (transport.HeadResult, error) {
		return tr.Head(ctx, url, headTimeout)
	})
	acceptRanges := false
	contentLength := int64(-1)
	if err == nil {
		acceptRanges = head.AcceptRanges || head.Headers.AcceptsRanges()
		contentLength = head.ContentLength
	}
	// A failed HEAD degrades to accept_ranges=false, content_length=unknown
	// rather than surfacing the HEAD error.

	existed, err := statSize(fs, dst)
	if err != nil {
		return rec, err
	}

	if !acceptRanges {
		rec.Retried = existed > 0
		stat, err := withRetry(ctx, cfg, func() (transport.TransferStat, error) {
			return tr.GetWhole(ctx, url, dst)
		})
		if err != nil {
			return rec, err
		}
		rec.ElapsedSeconds += stat.ElapsedSeconds
		rec.BytesWritten += stat.Size
		rec.UsedRange = false
		return rec, nil
	}

	rec.UsedRange = true
	rec.Retried = existed > 0
	offset := existed
	if contentLength >= 0 && existed > contentLength {
		if err := fs.Remove(dst); err != nil && !isNotExist(err) {
			return rec, err
		}
		offset = 0
	}

	scratch := dst + ".netshift-part"

	for {
		var stat transport.RangeStat
		guarded := offset > 0

		if guarded {
			stat, err = withRetry(ctx, cfg, func() (transport.RangeStat, error) {
				return tr.GetRangeAppend(ctx, url, scratch, offset, nil, bulkTimeouts())
			})
		} else {
			stat, err = withRetry(ctx, cfg, func() (transport.RangeStat, error) {
				return tr.GetRangeAppend(ctx, url, dst, offset, nil, bulkTimeouts())
			})
		}
		if err != nil {
			return rec, err
		}
		rec.ElapsedSeconds += stat.ElapsedSeconds

		if stat.Status == 200 {
			// The server ignored our Range request: the response body we
			// just received is the *entire* object,
			// not a continuation. Detect this before trusting the bytes
			// as an append and route around the corruption the naive
			// loop would otherwise cause.
			if guarded {
				if err := replaceWithScratch(fs, dst, scratch); err != nil {
					return rec, err
				}
			}
			rec.BytesWritten += stat.Size
			break
		}

		if guarded {
			if err := appendScratchTo(fs, dst, scratch); err != nil {
				return rec, err
			}
		}

		rec.BytesWritten += stat.Size
		offset += stat.Size

		if contentLength >= 0 && offset >= contentLength {
			break
		}
		if stat.Size == 0 {
			if contentLength < 0 {
				// No HEAD-reported length to compare against: a zero-size
				// response is the only EOF signal this server gives us.
				break
			}
			// The range responded without error but appended nothing and
			// we're still short of contentLength: the peer isn't going to
			// make further progress on this connection. Return it to the
			// caller (withRetry is not involved) rather than silently
			// returning a truncated file as a success.
			return rec, ErrZeroProgress
		}
	}

	return rec, nil
}

// withRetry applies cfg's backoff policy around a single network
// operation, classifying errors the way ClassifyError does and giving
// up once the category is fatal or the retry budget is exhausted.
func withRetry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	state := &RetryState{}
	for {
		result, err := op()
		if err == nil {
			return result, nil
		}
		category := ClassifyError(err)
		if category == ErrCategoryFatal {
			return result, err
		}
		state.Attempts++
		state.LastError = err
		state.LastAttempt = time.Now()
		if !cfg.ShouldRetry(state, err) {
			return result, ErrMaxRetriesExceeded
		}
		if waitErr := cfg.WaitForRetry(ctx, state, category); waitErr != nil {
			return result, waitErr
		}
	}
}

func statSize(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if isNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func isNotExist(err error) bool {
	return err != nil && isOSNotExist(err)
}

func appendScratchTo(fs afero.Fs, dst, scratch string) error {
	defer fs.Remove(scratch)
	src, err := fs.Open(scratch)
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := fs.OpenFile(dst, osAppendFlags, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

func replaceWithScratch(fs afero.Fs, dst, scratch string) error {
	_ = fs.Remove(dst)
	return fs.Rename(scratch, dst)
}
