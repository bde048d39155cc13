package mactable

import "fmt"

var (
	ErrTableFull        = fmt.Errorf("mac table full")
	ErrEntryNotFound    = fmt.Errorf("mac table entry not found")
	ErrStaticOverride   = fmt.Errorf("cannot overwrite static entry with dynamic entry")
	ErrInvalidVlan      = fmt.Errorf("invalid vlan id")
)

// TableError wraps a mac-table failure with operation context.
type TableError struct {
	Op  string
	Err error
}

func (e *TableError) Error() string { return fmt.Sprintf("mactable: %s: %v", e.Op, e.Err) }
func (e *TableError) Unwrap() error { return e.Err }
