package ippipeline

import "fmt"

var (
	ErrFrameTooShort    = fmt.Errorf("frame shorter than minimum ip header")
	ErrBadVersion       = fmt.Errorf("unsupported ip version")
	ErrBadIhl           = fmt.Errorf("ihl out of range")
	ErrTotalLengthBad   = fmt.Errorf("total length exceeds frame length")
	ErrChecksum         = fmt.Errorf("header checksum mismatch")
	ErrTooManyFragments = fmt.Errorf("fragment context table full")
)

// PipelineError wraps an ip pipeline failure with operation context.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("ippipeline: %s: %v", e.Op, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }
