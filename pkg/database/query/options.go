package query

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxLimit caps the page size a caller may request.
const MaxLimit = 1000

var ErrLimitExceeded = errors.Errorf("page limit exceeds %d", MaxLimit)

// Ordering is the direction records are paged in, by id.
type Ordering uint8

const (
	Ascending Ordering = iota
	Descending
)

// ParseOrdering accepts "asc" or "desc", in any case.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(s) {
	case "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	}
	return 0, errors.Errorf("unknown ordering %q", s)
}

func (o Ordering) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// Page describes one page of a listing.
type Page struct {
	Order  Ordering
	Limit  uint64
	Cursor Cursor
}

type Option func(*Page)

func WithDirection(o Ordering) Option {
	return func(p *Page) { p.Order = o }
}

// WithLimit sets the page size. Zero means MaxLimit.
func WithLimit(n uint64) Option {
	return func(p *Page) { p.Limit = n }
}

// WithCursor starts the page after the record with the cursor's id.
func WithCursor(c Cursor) Option {
	return func(p *Page) { p.Cursor = c }
}

// NewPage applies opts to an ascending page of MaxLimit records.
func NewPage(opts ...Option) (*Page, error) {
	p := &Page{Order: Ascending, Limit: MaxLimit}
	for _, opt := range opts {
		opt(p)
	}

	if p.Limit == 0 {
		p.Limit = MaxLimit
	}
	if p.Limit > MaxLimit {
		return nil, ErrLimitExceeded
	}
	return p, nil
}

// After reports whether id falls after the page's cursor in its ordering.
func (p *Page) After(id uint64) bool {
	if len(p.Cursor) == 0 {
		return true
	}
	if p.Order == Descending {
		return id < p.Cursor.ToUint64()
	}
	return id > p.Cursor.ToUint64()
}
