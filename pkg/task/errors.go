package task

import "fmt"

// ExecutionError wraps a failure raised by a task function or one of its hooks.
type ExecutionError struct {
	Task string
	Host string
	// Phase is "pre-hook", "task" or "post-hook".
	Phase string
	Err   error
	// Stack is set when the failure was a panic.
	Stack []byte
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed on %s (%s): %v", e.Task, e.Host, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
