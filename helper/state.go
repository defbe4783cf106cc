package helper

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of one helper instance
type State int32

const (
	Unstarted State = iota
	Spawning
	Running
	Failed
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Spawning:
		return "Spawning"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	ErrAlreadyStarted = errors.New("helper already started")
	ErrNotRunning     = errors.New("helper not running")
	ErrTerminated     = errors.New("helper terminated")
)

// LaunchError reports a failed start attempt. The attempt is fatal for that session;
// Reset returns a Failed supervisor to Unstarted for a retry.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch helper %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
