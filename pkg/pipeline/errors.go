package pipeline

import "fmt"

var (
	ErrInvalidHandle  = fmt.Errorf("invalid or stale processor handle")
	ErrNilCallback    = fmt.Errorf("processor callback must not be nil")
	ErrRecirculationLimit = fmt.Errorf("recirculation depth limit exceeded")
)

// PipelineError wraps a pipeline failure with operation context, in the
// style of pkg/network/bridge/errors.go's wrapping structs.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }
