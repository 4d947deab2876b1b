// Package nettransport is the concrete net/http implementation of
// transport.Transport — the HTTP primitives the core itself stays
// abstract over but that a real binary still needs in order to drive
// it. Grounded on warplib.Downloader, which issues the same three
// request shapes (HEAD, full GET, Range GET) against *http.Client.
package nettransport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/warpdl/netshift/pkg/transport"
)

// Client is a transport.Transport backed by a real *http.Client.
type Client struct {
	HTTP *http.Client
	Fs   afero.Fs
}

// New creates a Client with sane per-request-class timeouts left to the
// caller (Transport.Timeouts parameters on each call), not baked into
// the shared *http.Client.
func New(fs afero.Fs) *Client {
	return &Client{HTTP: &http.Client{}, Fs: fs}
}

func (c *Client) Head(ctx context.Context, url string, timeout time.Duration) (transport.HeadResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return transport.HeadResult{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return transport.HeadResult{}, err
	}
	defer resp.Body.Close()

	hdrs := lowerHeaders(resp.Header)
	length := int64(-1)
	if v := hdrs.Get("content-length"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			length = n
		}
	}
	return transport.HeadResult{
		Status:        resp.StatusCode,
		Headers:       hdrs,
		AcceptRanges:  hdrs.AcceptsRanges(),
		ContentLength: length,
		ETag:          hdrs.Get("etag"),
		LastModified:  hdrs.Get("last-modified"),
	}, nil
}

func (c *Client) GetWhole(ctx context.Context, url, dst string) (transport.TransferStat, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transport.TransferStat{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return transport.TransferStat{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return transport.TransferStat{}, fmt.Errorf("nettransport: GET %s: status %d", url, resp.StatusCode)
	}

	out, err := c.Fs.Create(dst)
	if err != nil {
		return transport.TransferStat{}, err
	}
	defer out.Close()
	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return transport.TransferStat{}, err
	}
	return transport.TransferStat{ElapsedSeconds: time.Since(start).Seconds(), Size: n}, nil
}

func (c *Client) GetRangeAppend(ctx context.Context, url, dst string, start int64, end *int64, to transport.Timeouts) (transport.RangeStat, error) {
	reqCtx, cancel := context.WithTimeout(ctx, to.Connect+to.Read)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return transport.RangeStat{}, err
	}
	rangeHeader := fmt.Sprintf("bytes=%d-", start)
	if end != nil {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, *end)
	}
	req.Header.Set("Range", rangeHeader)

	reqStart := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return transport.RangeStat{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return transport.RangeStat{}, fmt.Errorf("nettransport: GET %s: status %d", url, resp.StatusCode)
	}

	f, err := c.Fs.OpenFile(dst, osAppendFlags, 0o644)
	if err != nil {
		return transport.RangeStat{}, err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return transport.RangeStat{}, err
	}
	return transport.RangeStat{
		ElapsedSeconds: time.Since(reqStart).Seconds(),
		Size:           n,
		Status:         resp.StatusCode,
		Headers:        lowerHeaders(resp.Header),
	}, nil
}

func lowerHeaders(h http.Header) transport.Headers {
	out := make(transport.Headers, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}
