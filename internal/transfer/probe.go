package transfer

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// Probe discovers what a transfer may assume before any bytes move: the
// remote document size, whether the host honors range requests, and how
// many bytes already sit on disk.
type Probe struct {
	Client *http.Client
}

// Probe inspects local and remote state for the request. It never fails:
// any error degrades to "no resume info", which the worker treats as a
// full restart.
func (p *Probe) Probe(ctx context.Context, req Request) ResumeState {
	logger := logctx.LoggerFromContext(ctx)

	rs := ResumeState{RemoteSize: -1}

	if fi, err := os.Stat(req.LocalPath); err == nil && fi.Mode().IsRegular() {
		rs.ExistingBytes = fi.Size()
	}

	resp, err := p.fetchHeaders(ctx, req.URL)
	if err != nil {
		logger.Debug("resume probe failed, starting fresh", "url", req.URL, "err", err)

		return rs
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		logger.Debug("resume probe got unexpected status, starting fresh",
			"url", req.URL, "status", resp.StatusCode)

		return rs
	}

	if resp.ContentLength >= 0 {
		rs.RemoteSize = resp.ContentLength
	}

	rs.SupportsRange = strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")

	if rs.RemoteSize > 0 && rs.ExistingBytes >= rs.RemoteSize {
		if rs.ExistingBytes > rs.RemoteSize {
			logger.Warn("local file larger than remote, keeping it",
				"path", req.LocalPath,
				"local_bytes", rs.ExistingBytes,
				"remote_bytes", rs.RemoteSize)
		}

		rs.Complete = true
	}

	return rs
}

// fetchHeaders prefers HEAD but falls back to a GET whose body the caller
// discards, because some document hosts reject HEAD outright.
func (p *Probe) fetchHeaders(ctx context.Context, rawURL string) (*http.Response, error) {
	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client().Do(headReq)
	if err == nil {
		if resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotImplemented {
			return resp, nil
		}

		resp.Body.Close()
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	return p.client().Do(getReq)
}

func (p *Probe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}

	return http.DefaultClient
}
