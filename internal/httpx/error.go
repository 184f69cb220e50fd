package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// maxErrorBody caps how much of an error response is buffered.
const maxErrorBody = 64 << 10

// HTTPError represents a response with status 400 or above.
type HTTPError struct {
	StatusCode int
	Reason     string
	Body       []byte
	Header     http.Header
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("http error: status=%d reason=%s body=%s", e.StatusCode, e.Reason, string(e.Body))
}

// reasonPhrase extracts the reason text from the status line, falling back to
// the canonical text for the code when the server sent none.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
