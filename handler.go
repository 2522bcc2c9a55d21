package admit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
)

// HandlerOption configures the Handler middleware.
type HandlerOption func(*responder)

// WithCanonlog emits one canonical log line per request with method, path,
// route, status and duration_ms. Errors set via SetError and admission outcomes
// recorded by a Gate land on the same line.
func WithCanonlog() HandlerOption {
	return func(h *responder) {
		h.logging = true
	}
}

// WithCanonlogFields adds fields to each log line. fn runs before the handler.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(h *responder) {
		h.extraFields = fn
	}
}

// WithSLOs logs slo_class and slo_status (PASS or FAIL) for routes tagged with
// SLO or SLOWithTarget. Requires WithCanonlog.
func WithSLOs() HandlerOption {
	return func(h *responder) {
		h.slos = true
	}
}

var encodeBuffers = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Handler returns middleware that owns the response: handlers and inner
// middleware record it with SetResponse, SetError and SetHeader and Handler
// writes it once the chain returns. Panics become ErrInternal.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	proto := responder{}
	for _, opt := range opts {
		opt(&proto)
	}
	return func(next http.Handler) http.Handler {
		h := proto
		h.next = next
		return &h
	}
}

type responder struct {
	next        http.Handler
	logging     bool
	extraFields func(*http.Request) map[string]any
	slos        bool
}

func (h *responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	state := &State{}
	r = h.begin(r, state)

	defer func() {
		if p := recover(); p != nil {
			state.fail(ErrInternal)
			if h.logging {
				canonlog.ErrorAdd(r.Context(), fmt.Errorf("panic: %v", p))
			}
		}
		if h.logging {
			h.log(r, state, time.Since(started))
		}
		state.write(w)
	}()

	h.next.ServeHTTP(w, r)
}

func (h *responder) begin(r *http.Request, state *State) *http.Request {
	ctx := context.WithValue(r.Context(), stateKey, state)
	if h.logging {
		ctx = canonlog.NewContext(ctx)
		canonlog.InfoAddMany(ctx, map[string]any{"method": r.Method, "path": r.URL.Path})
		if h.extraFields != nil {
			canonlog.InfoAddMany(ctx, h.extraFields(r))
		}
	}
	return r.WithContext(ctx)
}

func (h *responder) log(r *http.Request, state *State, elapsed time.Duration) {
	ctx := r.Context()

	status, apiErr := state.outcome()
	// Denials are an expected outcome under load.
	if apiErr != nil && apiErr.Status != http.StatusTooManyRequests {
		canonlog.ErrorAdd(ctx, apiErr)
	}

	route := r.URL.Path
	if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	canonlog.InfoAddMany(ctx, map[string]any{
		"route":       route,
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	})

	if tier, target, ok := GetSLO(ctx); h.slos && ok {
		verdict := "PASS"
		if elapsed > target {
			verdict = "FAIL"
		}
		canonlog.InfoAddMany(ctx, map[string]any{"slo_class": string(tier), "slo_status": verdict})
	}

	canonlog.Flush(ctx)
}

// write renders the recorded response: an error wins over a body, and a bare
// status is written without a body.
func (s *State) write(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, values := range s.headers {
		w.Header()[key] = append(w.Header()[key], values...)
	}

	status, payload := s.status, s.body
	if s.err != nil {
		status, payload = s.err.Status, errorResponse{Error: s.err}
	}
	if payload == nil {
		if status != 0 {
			w.WriteHeader(status)
		}
		return
	}
	if status == 0 {
		status = http.StatusOK
	}

	buf := encodeBuffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer encodeBuffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
