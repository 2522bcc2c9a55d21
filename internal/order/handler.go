package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"

	"github.com/nhalm/admit"
)

var errSoldOut = &admit.APIError{
	Type:    "request_error",
	Code:    "sold_out",
	Message: "Stock sold out",
	Status:  http.StatusConflict,
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	StockID int `json:"stock_id" validate:"required,gt=0"`
}

// Handler serves the order endpoints. Responses are recorded with admit.SetResponse
// and admit.SetError, so routes must run under admit.Handler.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(_ http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !admit.JSON(r, &req) {
		return
	}

	o, err := h.svc.CreateOrder(r.Context(), req.StockID)
	if err != nil {
		setError(r, err)
		return
	}

	if _, ok := canonlog.TryGetLogger(r.Context()); ok {
		canonlog.InfoAddMany(r.Context(), map[string]any{
			"order_id": o.ID.String(),
			"stock_id": o.StockID,
		})
	}
	admit.SetResponse(r, http.StatusCreated, o)
}

// GetStock handles GET /stocks/{id}.
func (h *Handler) GetStock(_ http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		admit.SetError(r, admit.ErrBadRequest.WithParam("Stock id must be a positive integer", "id"))
		return
	}

	s, err := h.svc.Stock(r.Context(), id)
	if err != nil {
		setError(r, err)
		return
	}
	admit.SetResponse(r, http.StatusOK, s)
}

func setError(r *http.Request, err error) {
	if apiErr := admit.AdmissionError(err); apiErr != nil {
		admit.SetError(r, apiErr)
		return
	}

	switch {
	case errors.Is(err, ErrStockNotFound):
		admit.SetError(r, admit.ErrNotFound.With("Stock not found"))
	case errors.Is(err, ErrSoldOut):
		admit.SetError(r, errSoldOut)
	case errors.Is(err, ErrConflict):
		admit.SetError(r, admit.ErrConflict.With("Stock is being updated, retry the order"))
	default:
		if _, ok := canonlog.TryGetLogger(r.Context()); ok {
			canonlog.ErrorAdd(r.Context(), err)
		}
		admit.SetError(r, admit.ErrInternal)
	}
}
