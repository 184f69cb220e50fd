package httpx

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	_, err = NewClient("localhost:50070")
	require.Error(t, err)

	c, err := NewClient("http://nn.local:50070", WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "nn.local:50070", c.BaseURL().Host)
	assert.Equal(t, time.Second, c.timeout)
	assert.Zero(t, c.httpClient.Timeout, "no deadline on the whole exchange")
	transport, ok := c.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, time.Second, transport.ResponseHeaderTimeout)
	assert.True(t, transport.DisableKeepAlives)
}

func TestDoDoesNotFollowRedirects(t *testing.T) {
	var followed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			followed = true
			return
		}
		w.Header().Set("Location", "/target?x=1")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/start"})
	require.NoError(t, err)
	defer CloseBody(resp.Body)

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/target?x=1", resp.Header.Get("Location"))
	assert.False(t, followed)
	assert.True(t, resp.Close, "keep-alive is disabled")
}

func TestDoReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"RemoteException":{"message":"gone"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	assert.Nil(t, resp)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "Not Found", httpErr.Reason)
	assert.Contains(t, string(httpErr.Body), "gone")
	assert.Equal(t, "application/json", httpErr.Header.Get("Content-Type"))
	assert.Contains(t, httpErr.Error(), "status=404")
}

func TestDoBuildsURLFromPathAndQuery(t *testing.T) {
	got := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHeaders(http.Header{"X-Default": {"on"}}))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPut,
		Path:   "webhdfs/v1/dir name",
		Query:  url.Values{"op": {"MKDIRS"}, "user.name": {"alice"}},
		Header: http.Header{"X-Extra": {"1"}},
	})
	require.NoError(t, err)
	CloseBody(resp.Body)

	r := <-got
	assert.Equal(t, "/webhdfs/v1/dir name", r.URL.Path)
	assert.Equal(t, "op=MKDIRS&user.name=alice", r.URL.RawQuery)
	assert.Equal(t, "on", r.Header.Get("X-Default"))
	assert.Equal(t, "1", r.Header.Get("X-Extra"))
	assert.Equal(t, int64(0), r.ContentLength)
}

func TestDoUsesVerbatimURLAndKeepsBodyOpen(t *testing.T) {
	type seen struct {
		rawQuery string
		length   int64
		body     string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got <- seen{rawQuery: r.URL.RawQuery, length: r.ContentLength, body: string(data)}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient("http://unused.invalid")
	require.NoError(t, err)

	body := &closeTracker{Reader: strings.NewReader("payload")}
	resp, err := c.Do(context.Background(), &Request{
		Method:        http.MethodPut,
		URL:           srv.URL + "/x?b=2&a=1&c=%2C",
		Path:          "/ignored",
		Body:          body,
		ContentLength: 7,
	})
	require.NoError(t, err)
	CloseBody(resp.Body)

	s := <-got
	assert.Equal(t, "b=2&a=1&c=%2C", s.rawQuery)
	assert.Equal(t, int64(7), s.length)
	assert.Equal(t, "payload", s.body)
	assert.False(t, body.closed)
}

func TestDoChunkedWhenLengthUnknown(t *testing.T) {
	got := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		got <- r.TransferEncoding
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{
		Method:        http.MethodPost,
		Path:          "/x",
		Body:          strings.NewReader("stream"),
		ContentLength: -1,
	})
	require.NoError(t, err)
	CloseBody(resp.Body)
	assert.Equal(t, []string{"chunked"}, <-got)
}

func TestDoRequiresMethod(t *testing.T) {
	c, err := NewClient("http://nn.local")
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &Request{Path: "/x"})
	require.Error(t, err)
	_, err = c.Do(context.Background(), nil)
	require.Error(t, err)
}

func TestReasonPhraseFallback(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusForbidden, Status: "403"}
	assert.Equal(t, "Forbidden", reasonPhrase(resp))

	resp = &http.Response{StatusCode: http.StatusForbidden, Status: "403 Access Denied"}
	assert.Equal(t, "Access Denied", reasonPhrase(resp))
}

// trickle writes n bytes with gap between each, flushing every byte.
func trickle(n int, gap time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(n))
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < n; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(gap):
			}
			_, _ = w.Write([]byte{'x'})
			flusher.Flush()
		}
	}
}

func TestSlowBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(trickle(10, 60*time.Millisecond))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithTimeout(300*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/slow"})
	require.NoError(t, err)
	data, err := ReadAllAndClose(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10), string(data))
	assert.Greater(t, time.Since(start), 300*time.Millisecond)
}

func TestStalledBodyTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(150*time.Millisecond))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/stall"})
	require.NoError(t, err)
	_, err = ReadAllAndClose(resp.Body)
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.True(t, netErr.Timeout())
}

func TestSlowUploadOutlivesTimeout(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got <- string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithTimeout(300*time.Millisecond))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &Request{
		Method:        http.MethodPut,
		Path:          "/slow",
		Body:          &slowReader{data: []byte("0123456789"), gap: 60 * time.Millisecond},
		ContentLength: -1,
	})
	require.NoError(t, err)
	CloseBody(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "0123456789", <-got)
}

// slowReader yields one byte per Read, pausing gap before each.
type slowReader struct {
	data []byte
	gap  time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.gap)
	n := copy(p[:1], r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDoSendsBodyOfUnknownLength(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got <- string(data)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	for _, length := range []int64{0, -1} {
		resp, err := c.Do(context.Background(), &Request{
			Method:        http.MethodPut,
			Path:          "/x",
			Body:          strings.NewReader("payload"),
			ContentLength: length,
		})
		require.NoError(t, err)
		CloseBody(resp.Body)
		assert.Equal(t, "payload", <-got, "length %d", length)
	}
}
