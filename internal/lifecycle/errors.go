package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrAttachment is matched by every *AttachmentError.
	ErrAttachment = errors.New("attachment failed")
	// ErrUnknownAttachment is returned for ids that are not attached.
	ErrUnknownAttachment = errors.New("unknown attachment")
	// ErrHandoffDone is returned when releasing a handoff that was already
	// adopted or released.
	ErrHandoffDone = errors.New("handoff already adopted or released")
)

// AttachmentError reports why a configuration could not be attached.
type AttachmentError struct {
	Component string
	Err       error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attach %s: %v", e.Component, e.Err)
}

func (e *AttachmentError) Unwrap() []error { return []error{ErrAttachment, e.Err} }

// Phase names the hook being run.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseStop  Phase = "stop"
)

// HookError is a failed or panicking entry point. It is logged and reported
// to observers, never returned from Start or Stop.
type HookError struct {
	Component  string
	EntryPoint string
	Phase      Phase
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %q of %s: %v", e.Phase, e.EntryPoint, e.Component, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
