package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 2 * time.Second
	defaultUserAgent   = "ratecache/0.1"
	// status pages and stats documents are small; anything larger is a
	// misconfigured endpoint
	maxBodyBytes = 4 << 20
)

// HTTPOptions holds what every HTTP based collector needs.
type HTTPOptions struct {
	URL       string       // full URL of the status endpoint
	Username  string       // optional basic auth
	Password  string       // optional basic auth
	HTTP      *http.Client // injected for testability (may be nil -> client with Timeout)
	Timeout   time.Duration
	UserAgent string
	Log       *zap.Logger
}

func (o *HTTPOptions) client() *http.Client {
	if o.HTTP != nil {
		return o.HTTP
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	// the zero Transport shares http.DefaultTransport and its connection pool
	return &http.Client{Timeout: timeout}
}

func (o *HTTPOptions) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// get issues a GET and returns the body of a 200 response. The caller must
// close it.
func (o *HTTPOptions) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	ua := o.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if o.Username != "" {
		req.SetBasicAuth(o.Username, o.Password)
	}

	resp, err := o.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %d: %s", target, resp.StatusCode, string(b))
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxBodyBytes), resp.Body}, nil
}
