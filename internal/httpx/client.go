package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds connecting, waiting for response headers, and each
// individual socket read or write.
const DefaultTimeout = 600 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper. The supplied
// client is used as-is; callers that replace it are responsible for disabling
// redirect following if they rely on reading Location headers.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithTimeout replaces the default HTTP client with one bounded by d.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
			c.httpClient = NewHTTPClient(d)
		}
	}
}

// Client wraps http.Client providing base URL utilities. It never retries
// and never follows redirects: a 3xx response is handed back to the caller
// untouched so the Location header can be inspected.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	timeout    time.Duration
}

// Request describes a single outbound request.
//
// When URL is set it is used verbatim and Path/Query are ignored; this is how
// redirect targets are addressed without re-encoding their query string.
// Body is owned by the caller: Do never closes it. A positive ContentLength
// is sent as Content-Length; otherwise a non-nil Body is sent with its
// length unknown and the transport streams it until EOF.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	URL           string
	Header        http.Header
	Body          io.Reader
	ContentLength int64
	Trace         func(context.Context) context.Context
}

// NewHTTPClient returns an http.Client with keep-alives disabled and redirect
// following turned off, so each exchange owns exactly one connection and the
// connection is released as soon as the response body is closed.
//
// There is no overall deadline: timeout bounds the dial, the wait for
// response headers and every single socket write. Body reads are bounded by
// Client.Do, so a transfer may run for as long as bytes keep moving.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &writeTimeoutConn{Conn: conn, timeout: timeout}, nil
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpx: base URL %q must include scheme and host", baseURL)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: NewHTTPClient(DefaultTimeout),
		headers:    make(http.Header),
		timeout:    DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Do executes the provided request exactly once and returns the response, or
// an *HTTPError when the status is 400 or above. On error no response body is
// left open; on success the caller must close resp.Body. Each read of the
// response body fails once it has waited longer than the client timeout.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	fullURL := req.URL
	if fullURL == "" {
		var err error
		fullURL, err = c.buildURL(req.Path, req.Query)
		if err != nil {
			return nil, err
		}
	}

	if req.Trace != nil {
		ctx = req.Trace(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)

	var body io.Reader = http.NoBody
	if req.Body != nil {
		// The transport closes request bodies; keep ownership with the caller.
		body = io.NopCloser(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	httpReq.Header = cloneHeader(c.headers)
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		closeBody(respBody(resp))
		cancel()
		return nil, err
	}
	resp.Body = newIdleTimeoutBody(resp.Body, c.timeout, cancel)

	if resp.StatusCode >= 400 {
		return nil, c.handleError(resp)
	}
	return resp, nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

// CloseBody closes rc when it is non-nil, discarding the close error.
func CloseBody(rc io.ReadCloser) {
	closeBody(rc)
}

func respBody(resp *http.Response) io.ReadCloser {
	if resp == nil {
		return nil
	}
	return resp.Body
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref := &url.URL{Path: path}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	full := c.baseURL.ResolveReference(ref)
	return full.String(), nil
}

func (c *Client) handleError(resp *http.Response) error {
	defer closeBody(resp.Body)
	// A truncated body still carries a usable status.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Body:       body,
		Header:     resp.Header.Clone(),
	}
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}
