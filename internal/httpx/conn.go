package httpx

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// writeTimeoutConn bounds every single write on the connection. Reads are
// left to ResponseHeaderTimeout and idleTimeoutBody, since the transport
// keeps a read pending while the request body is still being sent.
type writeTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeTimeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// timeoutError is returned when a response body read stalls.
type timeoutError struct{}

func (timeoutError) Error() string   { return "httpx: response body read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// idleTimeoutBody cancels the request when a single Read blocks for longer
// than timeout. Close releases the request context.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	expired atomic.Bool
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	return &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	timer := time.AfterFunc(b.timeout, func() {
		b.expired.Store(true)
		b.cancel()
	})
	n, err := b.rc.Read(p)
	timer.Stop()
	if err != nil && err != io.EOF && b.expired.Load() {
		err = timeoutError{}
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
