// Package task binds user functions to names and runs them against a single
// host: it opens the session, builds the per-host execution Context, runs the
// hooks around the function and captures the outcome as a Result.
package task

import (
	"context"
	"fmt"
	"strings"
)

// RootNamespace is the namespace of the top-level task file. Tasks defined in
// it are registered under their bare function name.
const RootNamespace = "spindlefile"

// Args are the caller-supplied arguments handed to a task function.
type Args struct {
	Positional []string
	Keyword    map[string]string
}

// Func is the body of a task. The execution Context for the current host is
// available through FromContext(ctx).
type Func func(ctx context.Context, args Args) (interface{}, error)

// Task is a named, immutable binding of a Func, optionally pinned to a remote user.
type Task struct {
	name        string
	fn          Func
	user        string
	description string
}

// Option configures a Task at construction time.
type Option func(*Task)

// WithUser pins the task to a remote user. A "user@" prefix in the host
// string still takes precedence.
func WithUser(user string) Option {
	return func(t *Task) { t.user = user }
}

// WithDescription attaches a one-line description shown when listing tasks.
func WithDescription(description string) Option {
	return func(t *Task) { t.description = description }
}

// New creates a task named after its namespace and function name.
func New(namespace, fnName string, fn Func, opts ...Option) (*Task, error) {
	if strings.TrimSpace(fnName) == "" {
		return nil, fmt.Errorf("task function name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("task %s has no function", fnName)
	}
	t := &Task{
		name: QualifiedName(namespace, fnName),
		fn:   fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// QualifiedName joins namespace and function name with a dot. The root
// namespace, matched case-insensitively, and the empty namespace add no prefix.
func QualifiedName(namespace, fnName string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" || strings.EqualFold(ns, RootNamespace) {
		return fnName
	}
	return ns + "." + fnName
}

func (t *Task) Name() string        { return t.name }
func (t *Task) User() string        { return t.user }
func (t *Task) Description() string { return t.description }

func (t *Task) String() string {
	return fmt.Sprintf("<task %s>", t.name)
}
