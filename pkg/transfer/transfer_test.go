package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/netshift/pkg/transport"
)

// fakeServer is an in-memory stand-in for an HTTP origin server used to
// drive ResumableTransfer through its Range/HEAD decision tree without a
// real network dependency.
type fakeServer struct {
	body         []byte
	acceptRanges bool
	ignoreRange  bool // always answers Range requests with 200 + full body
	headFails    bool
	failNextGets int // number of subsequent GetRangeAppend calls to fail transiently
}

func (f *fakeServer) Head(ctx context.Context, url string, timeout time.Duration) (transport.HeadResult, error) {
	if f.headFails {
		return transport.HeadResult{}, errors.New("connection refused")
	}
	hdrs := transport.Headers{}
	if f.acceptRanges {
		hdrs["accept-ranges"] = "bytes"
	}
	return transport.HeadResult{
		Status:        200,
		Headers:       hdrs,
		AcceptRanges:  f.acceptRanges,
		ContentLength: int64(len(f.body)),
	}, nil
}

func (f *fakeServer) GetWhole(ctx context.Context, url, dst string) (transport.TransferStat, error) {
	panic("test fs writer must be wired via withFS")
}

func (f *fakeServer) GetRangeAppend(ctx context.Context, url, dst string, start int64, end *int64, to transport.Timeouts) (transport.RangeStat, error) {
	panic("test fs writer must be wired via withFS")
}

// fsTransport binds a fakeServer to an afero.Fs so GetWhole/GetRangeAppend
// can actually write bytes, matching how a real HTTP transport would.
type fsTransport struct {
	*fakeServer
	fs afero.Fs
}

func (f *fsTransport) GetWhole(ctx context.Context, url, dst string) (transport.TransferStat, error) {
	if f.failNextGets > 0 {
		f.failNextGets--
		return transport.TransferStat{}, errors.New("connection reset by peer")
	}
	if err := afero.WriteFile(f.fs, dst, f.body, 0o644); err != nil {
		return transport.TransferStat{}, err
	}
	return transport.TransferStat{ElapsedSeconds: 0.01, Size: int64(len(f.body))}, nil
}

func (f *fsTransport) GetRangeAppend(ctx context.Context, url, dst string, start int64, end *int64, to transport.Timeouts) (transport.RangeStat, error) {
	if f.failNextGets > 0 {
		f.failNextGets--
		return transport.RangeStat{}, errors.New("connection reset by peer")
	}
	if f.ignoreRange {
		if err := afero.WriteFile(f.fs, dst, f.body, 0o644); err != nil {
			return transport.RangeStat{}, err
		}
		return transport.RangeStat{ElapsedSeconds: 0.01, Size: int64(len(f.body)), Status: 200}, nil
	}
	if start >= int64(len(f.body)) {
		return transport.RangeStat{ElapsedSeconds: 0.01, Size: 0, Status: 206}, nil
	}
	chunk := f.body[start:]
	fh, err := f.fs.OpenFile(dst, osAppendFlags, 0o644)
	if err != nil {
		return transport.RangeStat{}, err
	}
	defer fh.Close()
	if _, err := fh.Write(chunk); err != nil {
		return transport.RangeStat{}, err
	}
	return transport.RangeStat{ElapsedSeconds: 0.01, Size: int64(len(chunk)), Status: 206}, nil
}

// stallingTransport advertises ranges and a known contentLength but its
// Range GETs always report zero bytes appended without error, simulating a
// peer that stopped sending mid-object without tearing down the connection.
type stallingTransport struct {
	body []byte
	fs   afero.Fs
}

func (s *stallingTransport) Head(ctx context.Context, url string, timeout time.Duration) (transport.HeadResult, error) {
	return transport.HeadResult{
		Status:        200,
		Headers:       transport.Headers{"accept-ranges": "bytes"},
		AcceptRanges:  true,
		ContentLength: int64(len(s.body)),
	}, nil
}

func (s *stallingTransport) GetWhole(ctx context.Context, url, dst string) (transport.TransferStat, error) {
	panic("unused in this test")
}

func (s *stallingTransport) GetRangeAppend(ctx context.Context, url, dst string, start int64, end *int64, to transport.Timeouts) (transport.RangeStat, error) {
	return transport.RangeStat{ElapsedSeconds: 0.01, Size: 0, Status: 206}, nil
}

func quickConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestTransferResumeRoundtrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := bytes.Repeat([]byte("x"), 1000)
	tr := &fsTransport{fakeServer: &fakeServer{body: body, acceptRanges: true}, fs: fs}

	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if rec.BytesWritten != 1000 || !rec.UsedRange || rec.Retried {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	// Truncate dst to 300 bytes to simulate an interrupted transfer.
	truncated := body[:300]
	if err := afero.WriteFile(fs, "/f", truncated, 0o644); err != nil {
		t.Fatal(err)
	}

	rec2, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if rec2.BytesWritten != 700 || !rec2.UsedRange || !rec2.Retried {
		t.Fatalf("unexpected resume record: %+v", rec2)
	}

	final, err := afero.ReadFile(fs, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(final, body) {
		t.Fatalf("resumed file does not match original body (len=%d want=%d)", len(final), len(body))
	}
}

func TestTransferRangeIgnoredFallbackNoDuplication(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := bytes.Repeat([]byte("y"), 500)
	tr := &fsTransport{fakeServer: &fakeServer{body: body, acceptRanges: true, ignoreRange: true}, fs: fs}

	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	final, err := afero.ReadFile(fs, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(final, body) {
		t.Fatalf("expected exactly one copy of body, got %d bytes (want %d)", len(final), len(body))
	}
	if !rec.UsedRange {
		t.Fatalf("expected UsedRange=true even though the server ignored Range")
	}
}

func TestTransferRangeIgnoredDuringResumeDoesNotCorruptPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := bytes.Repeat([]byte("z"), 800)
	tr := &fsTransport{fakeServer: &fakeServer{body: body, acceptRanges: true, ignoreRange: true}, fs: fs}

	// Simulate a partial prior download: 200 stray bytes already on disk
	// that do NOT match the true prefix of body (worst case: garbage).
	if err := afero.WriteFile(fs, "/f", bytes.Repeat([]byte("Q"), 200), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	final, err := afero.ReadFile(fs, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(final, body) {
		t.Fatalf("range-ignored response during resume must replace dst wholesale, not append after stale prefix; got %d bytes", len(final))
	}
	if rec.BytesWritten != int64(len(body)) {
		t.Fatalf("expected BytesWritten=%d, got %d", len(body), rec.BytesWritten)
	}
}

func TestTransferWholeFileWhenRangesUnsupported(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := []byte("no ranges here")
	tr := &fsTransport{fakeServer: &fakeServer{body: body, acceptRanges: false}, fs: fs}

	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.UsedRange {
		t.Fatalf("expected UsedRange=false when server does not advertise accept-ranges")
	}
	final, _ := afero.ReadFile(fs, "/f")
	if !bytes.Equal(final, body) {
		t.Fatalf("whole-file overwrite mismatch")
	}
}

func TestTransferHeadFailureDegradesToWholeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := []byte("head is down")
	tr := &fsTransport{fakeServer: &fakeServer{body: body, acceptRanges: true, headFails: true}, fs: fs}

	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.UsedRange {
		t.Fatalf("a failed HEAD must degrade to accept_ranges=false")
	}
}

func TestTransferRetriesTransientErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := []byte("retry me")
	srv := &fakeServer{body: body, acceptRanges: true}
	tr := &fsTransport{fakeServer: srv, fs: fs}
	tr.failNextGets = 2 // fail twice, succeed on the third attempt

	cfg := quickConfig()
	cfg.MaxRetries = 5
	rec, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", cfg)
	if err != nil {
		t.Fatalf("expected eventual success after transient retries, got %v", err)
	}
	if rec.BytesWritten != int64(len(body)) {
		t.Fatalf("unexpected bytes written: %d", rec.BytesWritten)
	}
}

func TestTransferReturnsErrZeroProgressOnStalledRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := bytes.Repeat([]byte("w"), 400)
	// acceptRanges but GetRangeAppend always reports zero bytes written
	// without an error and without ever reaching contentLength: a peer
	// that stopped sending mid-object but didn't close the connection.
	tr := &stallingTransport{body: body, fs: fs}

	_, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", quickConfig())
	if !errors.Is(err, ErrZeroProgress) {
		t.Fatalf("expected ErrZeroProgress, got %v", err)
	}
}

func TestTransferGivesUpAfterMaxRetries(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := []byte("never succeeds")
	srv := &fakeServer{body: body, acceptRanges: true}
	tr := &fsTransport{fakeServer: srv, fs: fs}
	tr.failNextGets = 100

	cfg := quickConfig()
	cfg.MaxRetries = 2
	_, err := Transfer(context.Background(), tr, fs, "https://example.com/f", "/f", cfg)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}
