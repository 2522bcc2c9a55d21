// Package order is the flash-sale operation guarded by the admission gate:
// decrement a stock's count and record an order for it.
//
// Stock rows carry a version. A purchase reads the row, then commits the
// decrement and the new order together only if the version is unchanged, so
// concurrent buyers can never oversell a stock.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStockNotFound = errors.New("stock not found")
	ErrSoldOut       = errors.New("stock sold out")
	// ErrConflict is returned when the stock row kept changing under the
	// purchase and the retry budget ran out.
	ErrConflict = errors.New("stock update conflict")
)

// Stock is one purchasable item.
type Stock struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Sale    int    `json:"sale"`
	Version int64  `json:"version"`
}

// Order records one successful purchase.
type Order struct {
	ID        uuid.UUID `json:"id"`
	StockID   int       `json:"stock_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Admitter decides whether an order attempt may run. *admit.Gate implements it.
type Admitter interface {
	CheckAndRecord(ctx context.Context) error
}

// Repository holds stock rows and orders. *Ledger implements it.
type Repository interface {
	Stock(id int) (Stock, error)
	// Purchase takes one unit of stock id and records o in one step, or returns
	// ErrConflict if the row is no longer at version.
	Purchase(id int, version int64, o Order) error
}

// Service creates orders against a Repository.
type Service struct {
	admitter   Admitter
	repo       Repository
	maxRetries int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRetries bounds how often a purchase retries after a version conflict.
// Defaults to 5.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		s.maxRetries = n
	}
}

// WithNow sets the function stamping CreatedAt. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service. A nil admitter admits everything.
func NewService(admitter Admitter, repo Repository, opts ...Option) *Service {
	s := &Service{
		admitter:   admitter,
		repo:       repo,
		maxRetries: 5,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder runs the admission check, then buys one unit of stockID.
//
// Gate errors are returned unchanged so callers can match them with
// errors.Is. Business failures are ErrStockNotFound, ErrSoldOut or ErrConflict.
func (s *Service) CreateOrder(ctx context.Context, stockID int) (Order, error) {
	if s.admitter != nil {
		if err := s.admitter.CheckAndRecord(ctx); err != nil {
			return Order{}, err
		}
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Order{}, err
		}

		stock, err := s.repo.Stock(stockID)
		if err != nil {
			return Order{}, err
		}
		if stock.Count <= 0 {
			return Order{}, fmt.Errorf("%w: %s", ErrSoldOut, stock.Name)
		}

		o := Order{
			ID:        uuid.New(),
			StockID:   stock.ID,
			Name:      stock.Name,
			CreatedAt: s.now(),
		}
		err = s.repo.Purchase(stock.ID, stock.Version, o)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Order{}, err
		}
		return o, nil
	}
	return Order{}, fmt.Errorf("%w: stock %d after %d attempts", ErrConflict, stockID, s.maxRetries+1)
}

// Stock returns the current state of a stock.
func (s *Service) Stock(_ context.Context, stockID int) (Stock, error) {
	return s.repo.Stock(stockID)
}
