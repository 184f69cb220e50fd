package webhdfs_test

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs"
	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs/fake"
)

// connCounter tracks server-side connection lifecycles.
type connCounter struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *connCounter) track(_ net.Conn, state http.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case http.StateNew:
		c.opened++
	case http.StateClosed, http.StateHijacked:
		c.closed++
	}
}

func (c *connCounter) counts() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

func (c *connCounter) assertAllClosed(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		opened, closed := c.counts()
		return opened == closed
	}, 2*time.Second, 10*time.Millisecond, "connections left open")
}

type testServer struct {
	*httptest.Server
	conns *connCounter
}

func startServer(t *testing.T, h http.Handler) *testServer {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	conns := &connCounter{}
	srv.Config.ConnState = conns.track
	srv.Start()
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, conns: conns}
}

// hostPort returns the host and port of a server URL.
func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func newClient(t *testing.T, nameNodeURL string, opts ...webhdfs.Option) *webhdfs.Client {
	t.Helper()
	host, port := hostPort(t, nameNodeURL)
	client, err := webhdfs.New(host, port, "alice", opts...)
	require.NoError(t, err)
	return client
}

type cluster struct {
	*fake.Cluster
	nameNode *testServer
	dataNode *testServer
	client   *webhdfs.Client
}

func startCluster(t *testing.T, opts ...webhdfs.Option) *cluster {
	t.Helper()
	fc := fake.NewCluster(nil)
	dn := startServer(t, fc.DataNode())
	fc.SetDataNodeAddr(dn.Listener.Addr().String())
	nn := startServer(t, fc.NameNode())
	return &cluster{
		Cluster:  fc,
		nameNode: nn,
		dataNode: dn,
		client:   newClient(t, nn.URL, opts...),
	}
}

func (c *cluster) assertAllClosed(t *testing.T) {
	t.Helper()
	c.nameNode.conns.assertAllClosed(t)
	c.dataNode.conns.assertAllClosed(t)
}

// recorder collects transfer events.
type recorder struct {
	mu     sync.Mutex
	events []webhdfs.TransferEvent
}

func (r *recorder) observe(ev webhdfs.TransferEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) states() []webhdfs.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webhdfs.State, 0, len(r.events)+1)
	if len(r.events) > 0 {
		out = append(out, r.events[0].From)
	}
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

func (r *recorder) last() webhdfs.TransferEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return webhdfs.TransferEvent{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
