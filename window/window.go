// Package window maps timestamps to the window a request is counted in.
//
// Two keyers are provided:
//
//   - Fixed aligns windows to a constant resolution (every second, every minute).
//     Two timestamps in the same bucket always yield the same key, in every process,
//     so Fixed is the keyer to pair with a shared Redis store.
//   - Rolling keeps a single active window anchored at the first request observed
//     after the previous window expired. Only the current slot is remembered.
//
// Example:
//
//	k, err := window.NewFixed(time.Second)
//	if err != nil {
//		return err
//	}
//	key := k.Key(time.Now()) // same key for every call in this second
package window

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// ErrInvalidLength is returned for a window length or resolution that is not positive.
var ErrInvalidLength = errors.New("window length must be positive")

// Kind names a keyer implementation.
type Kind string

const (
	KindFixed   Kind = "fixed"
	KindRolling Kind = "rolling"
)

// New builds the keyer of the given kind for windows of length.
func New(kind Kind, length time.Duration) (Keyer, error) {
	switch kind {
	case KindFixed:
		return NewFixed(length)
	case KindRolling:
		return NewRolling(length)
	}
	return nil, fmt.Errorf("unknown window kind %q", kind)
}

// Key identifies one counting window. ID is the string used as the counter key.
type Key struct {
	ID    string
	Start time.Time
}

// String returns the window ID.
func (k Key) String() string {
	return k.ID
}

// Keyer maps a timestamp to a window key.
// Implementations must be safe for concurrent use.
type Keyer interface {
	Key(now time.Time) Key
	// Length is how long a key stays current. Stores use it as the counter TTL.
	Length() time.Duration
}

// Fixed truncates timestamps to a constant resolution.
type Fixed struct {
	resolution time.Duration
}

// NewFixed creates a fixed-resolution keyer.
func NewFixed(resolution time.Duration) (*Fixed, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution %s", ErrInvalidLength, resolution)
	}
	return &Fixed{resolution: resolution}, nil
}

// Key returns the bucket containing now.
func (f *Fixed) Key(now time.Time) Key {
	start := now.Truncate(f.resolution)
	return Key{
		ID:    "f" + strconv.FormatInt(start.UnixMilli(), 10),
		Start: start,
	}
}

// Length returns the resolution.
func (f *Fixed) Length() time.Duration {
	return f.resolution
}

type slot struct {
	key Key
}

// Rolling tracks one active window. A window is reused while
// now - start <= length; the first observation after that starts a new window
// at now. Quiet periods do not roll the window: nothing changes until the next
// call, so a burst straddling the old boundary is counted against whichever
// window is current when it arrives.
type Rolling struct {
	length  time.Duration
	current atomic.Pointer[slot]
}

// NewRolling creates a rolling single-slot keyer.
func NewRolling(length time.Duration) (*Rolling, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %s", ErrInvalidLength, length)
	}
	return &Rolling{length: length}, nil
}

// Key returns the current window, starting a new one if it has expired.
// Concurrent callers that observe the same expired slot agree on a single
// replacement through compare-and-swap.
func (r *Rolling) Key(now time.Time) Key {
	for {
		cur := r.current.Load()
		if cur != nil && now.Sub(cur.key.Start) <= r.length {
			return cur.key
		}

		next := &slot{key: Key{
			ID:    "r" + strconv.FormatInt(now.UnixNano(), 10),
			Start: now,
		}}
		if r.current.CompareAndSwap(cur, next) {
			return next.key
		}
	}
}

// Current returns the active window, if any, without rolling it.
func (r *Rolling) Current() (Key, bool) {
	cur := r.current.Load()
	if cur == nil {
		return Key{}, false
	}
	return cur.key, true
}

// Length returns the window length.
func (r *Rolling) Length() time.Duration {
	return r.length
}
