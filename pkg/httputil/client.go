package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ebi-metagenomics/cratepack/pkg/buildinfo"
	"github.com/ebi-metagenomics/cratepack/pkg/observability"
)

const (
	// DefaultTimeout bounds small requests such as directory index pages.
	DefaultTimeout = 30 * time.Second

	// DefaultResponseHeaderTimeout bounds the wait for response headers on
	// streamed downloads, whose bodies may take much longer to arrive.
	DefaultResponseHeaderTimeout = 60 * time.Second
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ClientOptions configures [NewClient].
type ClientOptions struct {
	// Timeout is the overall request timeout including the body read.
	// Zero disables it, which is what streamed downloads want.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Zero uses DefaultResponseHeaderTimeout.
	ResponseHeaderTimeout time.Duration

	// Headers are applied to every request.
	Headers map[string]string
}

// Client is a thin GET client shared by the index crawler and the archive
// fetcher. It sets the User-Agent, classifies failures for [Retry], and
// reports every request to the registered [observability.HTTPHooks].
type Client struct {
	http    *http.Client
	headers map[string]string
}

// NewClient creates a Client from opts.
func NewClient(opts ClientOptions) *Client {
	headerTimeout := opts.ResponseHeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = DefaultResponseHeaderTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		headers: opts.Headers,
	}
}

// WithHTTPClient returns a copy of c that sends requests through hc.
// Tests use it to route requests to an httptest server.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return &Client{http: hc, headers: c.headers}
}

// Open issues a GET for url and returns the response with an unread body.
// The caller must close the body. Non-2xx responses are returned as
// *StatusError (wrapped in [RetryableError] for 5xx); transport failures
// are always wrapped in [RetryableError] unless ctx was cancelled.
func (c *Client) Open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	host, path := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, req.Method, host, path)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Retryable(err)
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(url, resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// GetBytes issues a GET for url and returns the whole body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Retryable(err)
	}
	return data, nil
}

func checkStatus(url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return Retryable(&StatusError{URL: url, StatusCode: code})
	default:
		return &StatusError{URL: url, StatusCode: code}
	}
}
