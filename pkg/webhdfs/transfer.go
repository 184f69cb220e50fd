package webhdfs

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Ratio1/webhdfs_sdk_go/internal/httpx"
)

// downloadChunkSize is the read size used when streaming a download to its sink.
const downloadChunkSize = 1 << 20

// Redirect is the target named by a coordinator's Location header. It is only
// meaningful for the call that received it.
type Redirect struct {
	Scheme   string
	Host     string
	Port     int
	Path     string
	RawQuery string
}

// ParseRedirect splits a Location header value into its parts. The query
// string is kept byte-for-byte.
func ParseRedirect(location string) (*Redirect, error) {
	if location == "" {
		return nil, protocolError("redirect location is missing")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, protocolError("malformed redirect location %q: %v", location, err)
	}
	if u.Host == "" {
		return nil, protocolError("redirect location %q has no host", location)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	r := &Redirect{
		Scheme:   scheme,
		Host:     u.Hostname(),
		Path:     u.EscapedPath(),
		RawQuery: u.RawQuery,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, protocolError("redirect location %q has invalid port", location)
		}
		r.Port = port
	} else if scheme == "https" {
		r.Port = 443
	} else {
		r.Port = 80
	}
	return r, nil
}

// URL reassembles the redirect target without re-encoding the query.
func (r *Redirect) URL() string {
	s := r.Scheme + "://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + r.Path
	if r.RawQuery != "" {
		s += "?" + r.RawQuery
	}
	return s
}

// transfer tracks the state of a single CREATE, APPEND or OPEN call.
type transfer struct {
	op       Operation
	path     string
	logger   zerolog.Logger
	observer func(TransferEvent)

	mu    sync.Mutex
	state State
}

func (c *Client) newTransfer(op Operation, remotePath string) *transfer {
	return &transfer{
		op:       op,
		path:     remotePath,
		logger:   c.logger.With().Str("op", string(op)).Str("path", remotePath).Logger(),
		observer: c.observer,
		state:    StateInit,
	}
}

func (t *transfer) to(next State) {
	t.move(next, nil)
}

// finish moves the transfer into its terminal state according to err.
func (t *transfer) finish(err error) {
	if err != nil {
		t.move(StateFailed, err)
		return
	}
	t.move(StateComplete, nil)
}

func (t *transfer) move(next State, err error) {
	t.mu.Lock()
	prev := t.state
	if prev.Terminal() || prev == next {
		t.mu.Unlock()
		return
	}
	t.state = next
	t.mu.Unlock()

	ev := t.logger.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("from", prev.String()).Str("to", next.String()).Msg("transfer state")
	if t.observer != nil {
		t.observer(TransferEvent{Op: t.op, Path: t.path, From: prev, To: next, Err: err})
	}
}

// trace reports connection establishment and, for uploads, the start of the
// body stream.
func (t *transfer) trace(streamOnWrite bool) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context {
		return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			GotConn: func(httptrace.GotConnInfo) {
				t.to(StateTransferConnectionOpen)
			},
			WroteHeaders: func() {
				if streamOnWrite {
					t.to(StateStreaming)
				}
			},
		})
	}
}

// redirect runs the coordinator hop of a transfer and returns the still-open
// coordinator response with its parsed Location.
func (c *Client) redirect(ctx context.Context, t *transfer, method string, op Operation, remotePath string, extra url.Values) (*http.Response, *Redirect, error) {
	t.to(StateCoordinatorRequestSent)
	resp, err := c.coordinate(ctx, method, op, remotePath, extra)
	if err != nil {
		return nil, nil, err
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return resp, nil, nil
	}
	target, err := ParseRedirect(loc)
	if err != nil {
		httpx.CloseBody(resp.Body)
		return nil, nil, err
	}
	t.to(StateRedirectReceived)
	t.logger.Debug().Str("host", target.Host).Int("port", target.Port).Str("path", target.Path).Msg("following redirect")
	return resp, target, nil
}

// write performs CREATE or APPEND: the coordinator names a target node and
// the body is streamed there.
func (c *Client) write(ctx context.Context, method string, op Operation, src io.Reader, size int64, remotePath string, extra url.Values) (err error) {
	if c == nil || c.coordinator == nil {
		return errors.New("webhdfs: client is nil")
	}
	t := c.newTransfer(op, remotePath)
	defer func() { t.finish(err) }()

	resp, target, err := c.redirect(ctx, t, method, op, remotePath, extra)
	if err != nil {
		return err
	}
	defer httpx.CloseBody(resp.Body)
	if target == nil {
		return protocolError("%s %s: coordinator response (HTTP %d) has no redirect location", op, remotePath, resp.StatusCode)
	}

	final, err := c.transfer.Do(ctx, &httpx.Request{
		Method:        method,
		URL:           target.URL(),
		Header:        http.Header{"Content-Type": {"application/octet-stream"}},
		Body:          src,
		ContentLength: size,
		Trace:         t.trace(true),
	})
	if err != nil {
		return fromHTTP(err)
	}
	defer httpx.CloseBody(final.Body)
	t.logger.Debug().Int("status", final.StatusCode).Str("reason", final.Status).Msg("transfer response")
	return nil
}

// read performs OPEN. open is only called once the outcome is known to be
// successful, so a failed coordinator or target response never touches the
// sink.
func (c *Client) read(ctx context.Context, remotePath string, open func() (io.WriteCloser, error)) (written int64, err error) {
	if c == nil || c.coordinator == nil {
		return 0, errors.New("webhdfs: client is nil")
	}
	t := c.newTransfer(OpOpen, remotePath)
	defer func() { t.finish(err) }()

	resp, target, err := c.redirect(ctx, t, http.MethodGet, OpOpen, remotePath, nil)
	if err != nil {
		return 0, err
	}
	defer httpx.CloseBody(resp.Body)

	if target == nil {
		// An empty file is answered directly, with nothing to stream.
		if resp.ContentLength > 0 {
			return 0, protocolError("%s %s: coordinator response (HTTP %d, %d bytes) has no redirect location", OpOpen, remotePath, resp.StatusCode, resp.ContentLength)
		}
		t.logger.Debug().Msg("empty remote file, no redirect")
		sink, err := open()
		if err != nil {
			return 0, err
		}
		return 0, sink.Close()
	}

	final, err := c.transfer.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		URL:    target.URL(),
		Trace:  t.trace(false),
	})
	if err != nil {
		return 0, fromHTTP(err)
	}
	defer httpx.CloseBody(final.Body)
	t.logger.Debug().Int("status", final.StatusCode).Str("reason", final.Status).Msg("transfer response")

	sink, err := open()
	if err != nil {
		return 0, err
	}
	t.to(StateStreaming)
	written, err = streamChunks(sink, final.Body)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	return written, err
}

// streamChunks copies src into dst in fixed-size reads until src is drained.
func streamChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// UploadFrom streams src into a new remote file. A positive size is sent as
// Content-Length; any other size sends src until EOF with the length unknown.
func (c *Client) UploadFrom(ctx context.Context, src io.Reader, size int64, remotePath string, opts *UploadOptions) error {
	if src == nil {
		return errors.New("webhdfs: upload source is nil")
	}
	replication, overwrite := 1, false
	if opts != nil {
		if opts.Replication > 0 {
			replication = opts.Replication
		}
		overwrite = opts.Overwrite
	}
	return c.write(ctx, http.MethodPut, OpCreate, src, size, remotePath, url.Values{
		paramOverwrite:   {strconv.FormatBool(overwrite)},
		paramReplication: {strconv.Itoa(replication)},
	})
}

// Upload copies the local file at localSource to remotePath.
func (c *Client) Upload(ctx context.Context, localSource, remotePath string, opts *UploadOptions) error {
	f, size, err := openSource(localSource)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.UploadFrom(ctx, f, size, remotePath, opts)
}

// AppendFrom streams src onto the end of an existing remote file. size is
// interpreted as in UploadFrom.
func (c *Client) AppendFrom(ctx context.Context, src io.Reader, size int64, remotePath string) error {
	if src == nil {
		return errors.New("webhdfs: append source is nil")
	}
	return c.write(ctx, http.MethodPost, OpAppend, src, size, remotePath, nil)
}

// Append appends the contents of the local file at localSource to remotePath.
func (c *Client) Append(ctx context.Context, localSource, remotePath string) error {
	f, size, err := openSource(localSource)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.AppendFrom(ctx, f, size, remotePath)
}

// DownloadTo streams the remote file into w and returns the byte count.
func (c *Client) DownloadTo(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	if w == nil {
		return 0, errors.New("webhdfs: download writer is nil")
	}
	return c.read(ctx, remotePath, func() (io.WriteCloser, error) {
		return nopWriteCloser{w}, nil
	})
}

// Download copies remotePath into the local file localSink. If localSink
// exists and overwrite is false the call fails before any request is made.
// A download interrupted mid-stream leaves the partial file in place.
func (c *Client) Download(ctx context.Context, remotePath, localSink string, overwrite bool) error {
	if localSink == "" {
		return errors.New("webhdfs: local target is required")
	}
	if _, err := os.Stat(localSink); err == nil && !overwrite {
		return protocolError("File '%s' already exists", localSink)
	}
	_, err := c.read(ctx, remotePath, func() (io.WriteCloser, error) {
		f, err := os.Create(localSink)
		if err != nil {
			return nil, errors.Wrapf(err, "webhdfs: create local target %s", localSink)
		}
		return f, nil
	})
	return err
}

func openSource(localSource string) (*os.File, int64, error) {
	if localSource == "" {
		return nil, 0, errors.New("webhdfs: local source is required")
	}
	f, err := os.Open(localSource)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "webhdfs: open local source %s", localSource)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrapf(err, "webhdfs: stat local source %s", localSource)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, errors.Errorf("webhdfs: local source %s is a directory", localSource)
	}
	// Pseudo-files and devices may report size 0 while still having content.
	if !info.Mode().IsRegular() || info.Size() <= 0 {
		return f, -1, nil
	}
	return f, info.Size(), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
