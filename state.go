package admit

import (
	"context"
	"net/http"
	"sync"
)

type stateKeyType struct{}

var stateKey stateKeyType

// State is the response recorded for one request, written by Handler after
// the chain returns. Setters may be called from several goroutines.
type State struct {
	mu      sync.Mutex
	err     *APIError
	status  int
	body    any
	headers http.Header
}

func (s *State) fail(err *APIError) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// outcome returns the status that will be written and the error, if any.
func (s *State) outcome() (int, *APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err.Status, s.err
	}
	return s.status, nil
}

// HasState reports whether ctx belongs to a request running under Handler.
func HasState(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

func stateFrom(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey).(*State)
	return s
}

// SetError records err as the response. It replaces any earlier error and
// takes precedence over SetResponse. No-op outside Handler.
func SetError(r *http.Request, err *APIError) {
	if s := stateFrom(r.Context()); s != nil {
		s.fail(err)
	}
}

// SetResponse records a success status and JSON body. A nil body writes the
// status alone. No-op outside Handler.
func SetResponse(r *http.Request, status int, body any) {
	s := stateFrom(r.Context())
	if s == nil {
		return
	}
	s.mu.Lock()
	s.status, s.body = status, body
	s.mu.Unlock()
}

// SetHeader records a response header, replacing earlier values for key.
// No-op outside Handler.
func SetHeader(r *http.Request, key, value string) {
	s := stateFrom(r.Context())
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers == nil {
		s.headers = make(http.Header)
	}
	s.headers.Set(key, value)
}
