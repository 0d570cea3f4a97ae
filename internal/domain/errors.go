package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session channel or a journal record is absent.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks failures of external collaborators. See UpstreamError.
	ErrUpstream = errors.New("upstream service error")
	// ErrUnsupportedFinishReason is returned for completions that neither stop nor call a tool.
	ErrUnsupportedFinishReason = errors.New("unsupported finish reason")
	// ErrUnknownTool is returned for tool names outside the known set.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when tool arguments cannot be parsed.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrIO is returned when an artifact cannot be persisted.
	ErrIO = errors.New("artifact io error")
	// ErrToolBlocked is returned when the tool policy rejects a call.
	ErrToolBlocked = errors.New("tool blocked by policy")
)

// UpstreamError wraps a failed call to an external service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed [%d]: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

// Unwrap exposes both ErrUpstream and the cause to errors.Is.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// Upstream is a shorthand for building an UpstreamError without a status code.
func Upstream(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}
