package order

import (
	"fmt"
	"sync"
)

// Ledger is an in-memory table of stocks and orders.
// It is safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	stocks map[int]Stock
	orders []Order
}

// NewLedger returns a ledger seeded with stocks. Versions start at 1.
func NewLedger(stocks ...Stock) *Ledger {
	l := &Ledger{stocks: make(map[int]Stock, len(stocks))}
	for _, s := range stocks {
		if s.Version == 0 {
			s.Version = 1
		}
		l.stocks[s.ID] = s
	}
	return l
}

// Stock returns a copy of the stock row.
func (l *Ledger) Stock(id int) (Stock, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.stocks[id]
	if !ok {
		return Stock{}, fmt.Errorf("%w: %d", ErrStockNotFound, id)
	}
	return s, nil
}

// Purchase decrements the stock's count, increments its sale and appends o in
// one step. Returns ErrConflict if the row's version is no longer version.
func (l *Ledger) Purchase(id int, version int64, o Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stocks[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrStockNotFound, id)
	}
	if s.Version != version {
		return ErrConflict
	}
	if s.Count <= 0 {
		return fmt.Errorf("%w: %s", ErrSoldOut, s.Name)
	}

	s.Count--
	s.Sale++
	s.Version++
	l.stocks[id] = s
	l.orders = append(l.orders, o)
	return nil
}

// Orders returns a copy of all recorded orders, oldest first.
func (l *Ledger) Orders() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Order, len(l.orders))
	copy(out, l.orders)
	return out
}
