package routing

import "fmt"

var (
	ErrTableFull       = fmt.Errorf("routing table full")
	ErrRouteNotFound   = fmt.Errorf("route not found")
	ErrInvalidPrefix   = fmt.Errorf("invalid prefix length for family")
	ErrFamilyMismatch  = fmt.Errorf("address family mismatch")
)

// TableError wraps a routing failure with operation context.
type TableError struct {
	Op  string
	Err error
}

func (e *TableError) Error() string { return fmt.Sprintf("routing: %s: %v", e.Op, e.Err) }
func (e *TableError) Unwrap() error { return e.Err }
