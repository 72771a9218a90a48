package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRemote matches every *RemoteError.
	ErrRemote = errors.New("remote request failed")

	// ErrUnavailable wraps transport failures: refused connections, timeouts, cancelled requests.
	ErrUnavailable = errors.New("remote api unavailable")
)

// RemoteError is returned when the remote API answers a request with a non-2xx status.
type RemoteError struct {
	Op     string
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: status %d", e.Op, e.Method, e.Path, e.Status)
	if d := e.Detail(); d != "" {
		msg += ": " + d
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// Detail extracts a human message from the response body. JSON bodies with a
// detail, message or error field yield that field; other bodies are returned trimmed.
func (e *RemoteError) Detail() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}
	const max = 512
	if len(body) > max {
		body = body[:max] + "..."
	}
	return body
}
