package task

import (
	"context"
	"errors"
	"sync"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/session"
)

// ErrNoContext is returned by the ambient helpers when called outside a task.
var ErrNoContext = errors.New("no task execution context in ctx")

// ErrContextReleased is returned when a Context is used after its task finished.
var ErrContextReleased = errors.New("task execution context already released")

// Context is the per-host state of one task invocation. Each execution unit
// owns its own Context; it is never shared between hosts.
type Context struct {
	TaskName string
	// HostString is the host exactly as the caller gave it, "user@" included.
	HostString string
	// Host is the bare hostname the session is connected to.
	Host     string
	Username string
	// ExtraVars are the explicit vars overlaid on the inventory host vars.
	ExtraVars map[string]interface{}
	Args      Args
	Quiet     bool

	mu       sync.Mutex
	session  session.Session
	released bool
}

type contextKey struct{}

func newContext(taskName, hostString string, s session.Session, vars map[string]interface{}, args Args, quiet bool) *Context {
	return &Context{
		TaskName:   taskName,
		HostString: hostString,
		Host:       s.Host(),
		Username:   s.Username(),
		ExtraVars:  vars,
		Args:       args,
		Quiet:      quiet,
		session:    s,
	}
}

// WithContext attaches c to ctx for the task function and everything it calls.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the execution Context of the task running in ctx.
func FromContext(ctx context.Context) (*Context, error) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	if !ok || c == nil {
		return nil, ErrNoContext
	}
	return c, nil
}

// Session returns the session owned by this invocation.
func (c *Context) Session() (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrContextReleased
	}
	return c.session, nil
}

// Released reports whether the invocation owning c has finished.
func (c *Context) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Vars returns the variables visible to templates: the extra vars plus the
// identity of the current invocation.
func (c *Context) Vars() map[string]interface{} {
	vars := common.CopyMap(c.ExtraVars)
	if vars == nil {
		vars = make(map[string]interface{})
	}
	keyword := make(map[string]interface{}, len(c.Args.Keyword))
	for k, v := range c.Args.Keyword {
		keyword[k] = v
	}
	positional := make([]interface{}, len(c.Args.Positional))
	for i, v := range c.Args.Positional {
		positional[i] = v
	}
	vars["task_name"] = c.TaskName
	vars["host_string"] = c.HostString
	vars["host"] = c.Host
	vars["username"] = c.Username
	vars["args"] = positional
	vars["kwargs"] = keyword
	return vars
}

// release detaches the session. The session itself stays open until the run's
// registry is disposed.
func (c *Context) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.session = nil
}
