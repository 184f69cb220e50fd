package webhdfs

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Ratio1/webhdfs_sdk_go/internal/hdfsapi"
	"github.com/Ratio1/webhdfs_sdk_go/internal/httpx"
)

// RemoteError is the single error kind raised for HTTP responses with status
// 400 or above and for protocol-contract violations. StatusCode is zero for
// violations detected locally (missing redirect, existing download target).
type RemoteError struct {
	StatusCode int
	Reason     string

	// Populated when the server attached a RemoteException body.
	Exception     string
	JavaClassName string
	Message       string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode == 0 {
		return e.Reason
	}
	msg := fmt.Sprintf("HTTP ERROR %d. Reason: %s", e.StatusCode, e.Reason)
	if e.Message != "" {
		if e.Exception != "" {
			return fmt.Sprintf("%s (%s: %s)", msg, e.Exception, e.Message)
		}
		return fmt.Sprintf("%s (%s)", msg, e.Message)
	}
	return msg
}

// IsRemoteError reports whether err is, or wraps, a *RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// StatusCode returns the HTTP status carried by err, or zero when err is not
// a *RemoteError or was raised locally.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

func protocolError(format string, args ...any) error {
	return &RemoteError{Reason: fmt.Sprintf(format, args...)}
}

// fromHTTP converts an *httpx.HTTPError into a *RemoteError. Any other error
// (transport faults, cancellation) is returned unchanged.
func fromHTTP(err error) error {
	var httpErr *httpx.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	re := &RemoteError{StatusCode: httpErr.StatusCode, Reason: httpErr.Reason}
	if exc := hdfsapi.DecodeRemoteException(httpErr.Body); exc != nil {
		re.Exception = exc.Exception
		re.JavaClassName = exc.JavaClassName
		re.Message = exc.Message
	}
	return re
}
