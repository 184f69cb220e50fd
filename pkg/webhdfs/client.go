package webhdfs

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Ratio1/webhdfs_sdk_go/internal/hdfsapi"
	"github.com/Ratio1/webhdfs_sdk_go/internal/httpx"
)

const (
	// ContextRoot prefixes every remote path on the coordinating node.
	ContextRoot = "/webhdfs/v1"
	// DefaultPort is the customary namenode HTTP port.
	DefaultPort = 50070
	// DefaultTimeout bounds connecting, waiting for a response and each
	// socket read or write on both hops. It is not a deadline on the whole
	// transfer.
	DefaultTimeout = httpx.DefaultTimeout

	paramOp          = "op"
	paramUser        = "user.name"
	paramRecursive   = "recursive"
	paramOverwrite   = "overwrite"
	paramReplication = "replication"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	scheme         string
	timeout        time.Duration
	httpClient     *http.Client
	transferClient *http.Client
	headers        http.Header
	logger         zerolog.Logger
	observer       func(TransferEvent)
}

// WithHTTPClient overrides the client used for requests to the coordinating
// node. It must not follow redirects.
func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.httpClient = h }
}

// WithTransferClient overrides the client used for the second hop to the
// target node.
func WithTransferClient(h *http.Client) Option {
	return func(c *config) { c.transferClient = h }
}

// WithTimeout sets the inactivity timeout of the default clients for both
// hops.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScheme selects http or https for the coordinating node.
func WithScheme(scheme string) Option {
	return func(c *config) {
		if s := strings.TrimSpace(scheme); s != "" {
			c.scheme = s
		}
	}
}

// WithHeaders adds default headers to every request on both hops.
func WithHeaders(h http.Header) Option {
	return func(c *config) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithLogger installs a structured logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithObserver registers fn to receive every transfer state transition.
// fn may be invoked from transport goroutines and must not block.
func WithObserver(fn func(TransferEvent)) Option {
	return func(c *config) { c.observer = fn }
}

// Client talks to a WebHDFS coordinating node on behalf of one user. Every
// method performs its own request (or request pair) and shares no mutable
// state with other calls.
type Client struct {
	coordinator *httpx.Client
	transfer    *httpx.Client
	user        string
	logger      zerolog.Logger
	observer    func(TransferEvent)
}

// New constructs a client for the coordinating node at host:port acting as
// user. A non-positive port selects DefaultPort.
func New(host string, port int, user string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("webhdfs: host is required")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("webhdfs: user is required")
	}
	if port <= 0 {
		port = DefaultPort
	}

	cfg := &config{
		scheme:  "http",
		timeout: DefaultTimeout,
		headers: make(http.Header),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	baseURL := (&url.URL{Scheme: cfg.scheme, Host: net.JoinHostPort(host, strconv.Itoa(port))}).String()
	coordinator, err := httpx.NewClient(baseURL,
		httpx.WithTimeout(cfg.timeout),
		httpx.WithHTTPClient(cfg.httpClient),
		httpx.WithHeaders(cfg.headers),
	)
	if err != nil {
		return nil, errors.Wrap(err, "webhdfs: init coordinator client")
	}
	transfer, err := httpx.NewClient(baseURL,
		httpx.WithTimeout(cfg.timeout),
		httpx.WithHTTPClient(cfg.transferClient),
		httpx.WithHeaders(cfg.headers),
	)
	if err != nil {
		return nil, errors.Wrap(err, "webhdfs: init transfer client")
	}

	return &Client{
		coordinator: coordinator,
		transfer:    transfer,
		user:        user,
		logger:      cfg.logger.With().Str("component", "webhdfs").Str("user", user).Logger(),
		observer:    cfg.observer,
	}, nil
}

// User returns the acting user identity sent with every request.
func (c *Client) User() string { return c.user }

// CreateDirectory creates path and any missing parents.
func (c *Client) CreateDirectory(ctx context.Context, remotePath string) error {
	return c.simple(ctx, http.MethodPut, OpMkdirs, remotePath, nil)
}

// Delete removes path. A non-empty directory is only removed when recursive
// is set.
func (c *Client) Delete(ctx context.Context, remotePath string, recursive bool) error {
	return c.simple(ctx, http.MethodDelete, OpDelete, remotePath, url.Values{
		paramRecursive: {strconv.FormatBool(recursive)},
	})
}

// RemoveDirectory deletes path recursively.
func (c *Client) RemoveDirectory(ctx context.Context, remotePath string) error {
	return c.Delete(ctx, remotePath, true)
}

// GetFileStatus returns the metadata of path. A response without a
// FileStatus object yields the zero FileStatus.
func (c *Client) GetFileStatus(ctx context.Context, remotePath string) (FileStatus, error) {
	var status FileStatus
	body, err := c.getJSON(ctx, OpGetFileStatus, remotePath)
	if err != nil {
		return status, err
	}
	if !c.decode(OpGetFileStatus, body, &status, hdfsapi.KeyFileStatus) {
		return FileStatus{}, nil
	}
	return status, nil
}

// ListDirectory returns the entry names of path in server order. An empty
// or unrecognised listing yields an empty slice. Only the name and type of
// each entry are decoded, so unexpected values in other fields do not hide
// an entry.
func (c *Client) ListDirectory(ctx context.Context, remotePath string) ([]string, error) {
	entries, err := c.listEntries(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for i, raw := range entries {
		var entry struct {
			PathSuffix string `json:"pathSuffix"`
			Type       string `json:"type"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.skipEntry(i, err)
			continue
		}
		c.logger.Debug().Str("type", entry.Type).Str("name", entry.PathSuffix).Msg("list entry")
		names = append(names, entry.PathSuffix)
	}
	return names, nil
}

// ListDirectoryDetailed returns the full status record of each entry of path
// in server order. Entries that do not decode as a FileStatus are skipped.
func (c *Client) ListDirectoryDetailed(ctx context.Context, remotePath string) ([]FileStatus, error) {
	entries, err := c.listEntries(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	statuses := make([]FileStatus, 0, len(entries))
	for i, raw := range entries {
		var st FileStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			c.skipEntry(i, err)
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// listEntries returns the undecoded FileStatuses.FileStatus array items.
func (c *Client) listEntries(ctx context.Context, remotePath string) ([]json.RawMessage, error) {
	body, err := c.getJSON(ctx, OpListStatus, remotePath)
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if !c.decode(OpListStatus, body, &entries, hdfsapi.KeyFileStatuses, hdfsapi.KeyFileStatus) {
		return nil, nil
	}
	return entries, nil
}

func (c *Client) skipEntry(index int, err error) {
	c.logger.Warn().Err(err).Str("op", string(OpListStatus)).Int("index", index).Msg("skipping undecodable list entry")
}

// GetHomeDirectory returns the acting user's home directory, or "" when the
// server does not report one.
func (c *Client) GetHomeDirectory(ctx context.Context) (string, error) {
	body, err := c.getJSON(ctx, OpGetHomeDirectory, "/")
	if err != nil {
		return "", err
	}
	var home string
	if !c.decode(OpGetHomeDirectory, body, &home, hdfsapi.KeyPath) {
		return "", nil
	}
	return home, nil
}

// simple issues a request whose outcome is fully described by its status.
func (c *Client) simple(ctx context.Context, method string, op Operation, remotePath string, extra url.Values) error {
	resp, err := c.coordinate(ctx, method, op, remotePath, extra)
	if err != nil {
		return err
	}
	httpx.CloseBody(resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op Operation, remotePath string) ([]byte, error) {
	resp, err := c.coordinate(ctx, http.MethodGet, op, remotePath, nil)
	if err != nil {
		return nil, err
	}
	return httpx.ReadAllAndClose(resp.Body)
}

// decode unwraps keys from body into out. Absent keys and malformed bodies
// both report false; the latter is logged.
func (c *Client) decode(op Operation, body []byte, out any, keys ...string) bool {
	found, err := hdfsapi.Decode(body, out, keys...)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", string(op)).Int("bytes", len(body)).Msg("unreadable response body, treating as empty")
		return false
	}
	return found
}

// coordinate sends one request to the coordinating node. Statuses of 400 and
// above come back as *RemoteError with the response already closed.
func (c *Client) coordinate(ctx context.Context, method string, op Operation, remotePath string, extra url.Values) (*http.Response, error) {
	p, err := requestPath(remotePath)
	if err != nil {
		return nil, err
	}
	query := url.Values{paramOp: {string(op)}}
	for k, v := range extra {
		query[k] = v
	}
	query.Set(paramUser, c.user)

	c.logger.Debug().Str("op", string(op)).Str("method", method).Str("path", p).Msg("coordinator request")
	resp, err := c.coordinator.Do(ctx, &httpx.Request{
		Method: method,
		Path:   p,
		Query:  query,
	})
	if err != nil {
		err = fromHTTP(err)
		c.logger.Debug().Err(err).Str("op", string(op)).Int("status", StatusCode(err)).Msg("coordinator response")
		return nil, err
	}
	c.logger.Debug().Str("op", string(op)).Int("status", resp.StatusCode).Str("location", resp.Header.Get("Location")).Msg("coordinator response")
	return resp, nil
}

// requestPath maps a remote path onto the coordinator URL space.
func requestPath(remotePath string) (string, error) {
	remotePath = strings.TrimSpace(remotePath)
	if remotePath == "" {
		return "", errors.New("webhdfs: remote path is required")
	}
	clean := path.Clean("/" + remotePath)
	if clean == "/" {
		return ContextRoot + "/", nil
	}
	return ContextRoot + clean, nil
}
