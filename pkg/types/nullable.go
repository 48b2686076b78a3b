// Package types provides nullable JSON value helpers used on the gateway's
// wire boundaries, where the distinction between "absent" and "null" carries
// protocol meaning.
package types

// Nullable is implemented by types that can represent an explicit null in
// addition to their zero value.
type Nullable interface {
	// IsNil reports whether the value is null.
	IsNil() bool
}
