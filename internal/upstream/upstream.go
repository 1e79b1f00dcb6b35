// Package upstream performs the engine's outbound origin fetches with a
// bounded deadline, transparent content decoding, and response header
// sanitization for proxied delivery.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; steer/1.0)"

// Client issues upstream GETs.
type Client struct {
	hc      *http.Client
	timeout time.Duration
}

// Config for the upstream client.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// NewClient builds an upstream client with pooled connections.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 256
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 16
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     idleTimeout,
		ForceAttemptHTTP2:   true,
		// The client decodes gzip/br itself so rewritten bodies are
		// plain text regardless of upstream encoding.
		DisableCompression: true,
	}
	return &Client{
		hc:      &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// Response is a decoded upstream response. Body is already
// content-decoded; Header has had the content-encoding removed when
// decoding occurred.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// IsHTML reports whether the response is an HTML document.
func (r *Response) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "text/html")
}

// IsCSS reports whether the response is a stylesheet.
func (r *Response) IsCSS() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "text/css")
}

// FetchOptions tunes one fetch.
type FetchOptions struct {
	// UserAgent forwarded upstream; default a neutral browser-like UA.
	UserAgent string
	// AcceptLanguage forwarded upstream when non-empty.
	AcceptLanguage string
}

// Get fetches url with the configured deadline. Callers must close
// Response.Body on every path.
func (c *Client) Get(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream: build request %q: %w", rawURL, err)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Encoding", "gzip, br")
	if opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", opts.AcceptLanguage)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream: get %q: %w", rawURL, err)
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: body, cancel: cancel},
	}, nil
}

// cancelOnClose releases the request deadline with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// decodeBody unwraps gzip/brotli bodies; the content-encoding and
// content-length headers are dropped since the decoded length differs.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: gzip reader: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &wrappedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "br":
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &wrappedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	default:
		// Unknown encoding streams through untouched.
		return resp.Body, nil
	}
}

type wrappedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *wrappedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// strippedResponseHeaders never propagate to the client from proxied
// responses: length changes under rewriting, and the security policies
// would block the injected tracking script.
var strippedResponseHeaders = []string{
	"Content-Length",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Strict-Transport-Security",
	"Transfer-Encoding",
	"Connection",
}

// SanitizeProxiedHeaders copies resp headers into dst, dropping the
// stripped set.
func SanitizeProxiedHeaders(dst http.Header, src http.Header) {
	for name, vals := range src {
		if isStrippedHeader(name) {
			continue
		}
		for _, v := range vals {
			dst.Add(name, v)
		}
	}
}

func isStrippedHeader(name string) bool {
	for _, s := range strippedResponseHeaders {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}
