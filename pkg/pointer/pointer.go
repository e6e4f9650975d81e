// Package pointer converts between optional values and the nullable columns
// and fields they are stored in.
package pointer

// To returns a pointer to a copy of v.
func To[T any](v T) *T {
	return &v
}

// IfValid returns a pointer to v when valid is set, otherwise nil. It pairs
// with the sql.Null* types.
func IfValid[T any](valid bool, v T) *T {
	if !valid {
		return nil
	}
	return &v
}

// OrDefault dereferences p, or returns def when p is nil.
func OrDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Copy returns a pointer to a copy of *p, or nil when p is nil.
func Copy[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
