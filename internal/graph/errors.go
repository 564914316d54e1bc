package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a transport failure.
type Kind int

// Failure kinds reported by the transport.
const (
	KindTransport Kind = iota
	KindThrottled
	KindAuthExpired
	KindMalformedPayload
)

func (k Kind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindAuthExpired:
		return "auth_expired"
	case KindMalformedPayload:
		return "malformed_payload"
	default:
		return "transport"
	}
}

// Error is the structured failure returned by Client.GetJSON and Decode.
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	Path       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("graph ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err. Errors that did not originate from this
// package are KindTransport.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindTransport
}

// RetryAfterOf returns the server's Retry-After hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.RetryAfter
	}
	return 0
}

// Graph error codes that signal throttling or an expired session regardless of status.
var (
	throttleCodes = map[string]struct{}{
		"toomanyrequests":      {},
		"activitylimitreached": {},
	}
	authCodes = map[string]struct{}{
		"invalidauthenticationtoken": {},
		"unauthenticated":            {},
	}
)

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyResponse turns a non-2xx response into an *Error.
func classifyResponse(path string, status int, header http.Header, body []byte) *Error {
	gerr := &Error{
		Kind:       KindTransport,
		StatusCode: status,
		Path:       path,
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		gerr.Code = env.Error.Code
		gerr.Message = env.Error.Message
	} else {
		gerr.Message = strings.TrimSpace(string(body))
	}
	code := strings.ToLower(gerr.Code)
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		gerr.Kind = KindThrottled
	case hasCode(throttleCodes, code):
		gerr.Kind = KindThrottled
	case status == http.StatusUnauthorized || hasCode(authCodes, code):
		gerr.Kind = KindAuthExpired
	}
	if gerr.Kind == KindThrottled {
		gerr.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return gerr
}

func hasCode(set map[string]struct{}, code string) bool {
	_, ok := set[code]
	return ok
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
