package autosms

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSignatureMissing is returned when a secret is configured but the
	// response carries no X-AutoSMS-Signature header.
	ErrSignatureMissing = errors.New("autosms: response signature missing")
	// ErrSignatureInvalid is returned when the response signature does not
	// match the body.
	ErrSignatureInvalid = errors.New("autosms: response signature invalid")
	// ErrMalformedResponse is returned when a response body is not valid JSON.
	ErrMalformedResponse = errors.New("autosms: malformed response")
	// ErrResponseTooLarge is wrapped in a TransportError when a response body
	// exceeds the read limit.
	ErrResponseTooLarge = errors.New("autosms: response too large")
)

// TransportError reports a request that never produced an HTTP response:
// dial failures, TLS failures, timeouts and an open circuit breaker.
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("autosms: %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a response whose status is outside the accepted range.
type HTTPStatusError struct {
	Code int
	Body []byte
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("autosms: unexpected http status %d", e.Code)
	}
	return fmt.Sprintf("autosms: unexpected http status %d: %s", e.Code, body)
}

// ValidationError lists caller-supplied fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "autosms: invalid request: " + strings.Join(parts, "; ")
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// IsStatus reports whether err is an HTTPStatusError carrying code.
func IsStatus(err error, code int) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
