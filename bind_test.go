package admit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

type createOrderRequest struct {
	StockID int    `json:"stock_id" validate:"required,gt=0"`
	Note    string `json:"note" validate:"max=10"`
}

func bindRequest(t *testing.T, body string, wrap func(http.Handler) http.Handler) (*httptest.ResponseRecorder, bool, createOrderRequest) {
	t.Helper()

	var ok bool
	var req createOrderRequest
	inner := http.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ok = JSON(r, &req)
		if ok {
			SetResponse(r, http.StatusOK, req)
		}
	}))
	if wrap != nil {
		inner = wrap(inner)
	}

	rec := httptest.NewRecorder()
	Handler()(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	return rec, ok, req
}

func TestJSON_ValidInput(t *testing.T) {
	rec, ok, req := bindRequest(t, `{"stock_id": 7}`, nil)

	if !ok {
		t.Fatalf("JSON() = false, body %s", rec.Body.String())
	}
	if req.StockID != 7 {
		t.Errorf("StockID = %d, want 7", req.StockID)
	}
}

func TestJSON_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wrap       func(http.Handler) http.Handler
		wantStatus int
		wantParam  string
		wantCode   string
	}{
		{name: "malformed json", body: `{"stock_id":`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"stock_id": 1, "qty": 2}`, wantStatus: http.StatusBadRequest},
		{name: "missing required", body: `{}`, wantStatus: http.StatusBadRequest, wantParam: "stock_id", wantCode: "required"},
		{name: "not positive", body: `{"stock_id": -3}`, wantStatus: http.StatusBadRequest, wantParam: "stock_id", wantCode: "gt"},
		{name: "too long", body: `{"stock_id": 1, "note": "far too long a note"}`, wantStatus: http.StatusBadRequest, wantParam: "note", wantCode: "max"},
		{name: "body too large", body: `{"stock_id": 1, "note": "x"}`, wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, 5)
				next.ServeHTTP(w, r)
			})
		}, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok, _ := bindRequest(t, tt.body, tt.wrap)

			if ok {
				t.Fatal("JSON() = true, want false")
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantParam == "" {
				return
			}

			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(body.Error.Errors) != 1 {
				t.Fatalf("field errors = %+v, want 1", body.Error.Errors)
			}
			fe := body.Error.Errors[0]
			if fe.Param != tt.wantParam || fe.Code != tt.wantCode {
				t.Errorf("field error = %+v, want param %s code %s", fe, tt.wantParam, tt.wantCode)
			}
		})
	}
}

func TestValidationMessage(t *testing.T) {
	tests := []struct {
		tag, param, want string
	}{
		{"required", "", "required"},
		{"gt", "0", "must be greater than 0"},
		{"max", "10", "must be at most 10"},
		{"min", "1", "must be at least 1"},
		{"oneof", "a b", "must be one of: a b"},
		{"custom", "", "custom"},
		{"custom", "x", "custom=x"},
	}
	for _, tt := range tests {
		if got := validationMessage(tt.tag, tt.param); got != tt.want {
			t.Errorf("validationMessage(%q, %q) = %q, want %q", tt.tag, tt.param, got, tt.want)
		}
	}
}
