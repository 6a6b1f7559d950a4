package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/session"
)

// HostVarsResolver looks up the inventory variables of a single host.
type HostVarsResolver interface {
	HostVars(host string) map[string]interface{}
}

// Env carries the run-scoped collaborators a task needs on every host.
type Env struct {
	Connector session.Connector
	Sessions  *session.Registry
	// Inventory is optional; without it only explicit vars are visible.
	Inventory    HostVarsResolver
	Hooks        *Hooks
	BreakOnError bool
	Quiet        bool
	// RunID is added to diagnostics for log correlation.
	RunID string
}

// Invocation is what the caller passes for one task run on one host.
type Invocation struct {
	ExtraVars map[string]interface{}
	// GroupVars sit beneath the host's inventory vars; explicit vars win
	// over both.
	GroupVars map[string]interface{}
	Username  string
	Password  string
	Args      Args
}

// Run executes the task on hostString. The returned Result always reflects the
// outcome; the error is non-nil only when the task failed and env.BreakOnError
// is set, in which case it is the same error the Result holds.
func (t *Task) Run(ctx context.Context, env *Env, hostString string, inv Invocation) (Result, error) {
	if env == nil || env.Connector == nil || env.Sessions == nil {
		return Result{}, common.NewConfigurationError("task %s: run environment is incomplete", t.name)
	}

	value, err := t.execute(ctx, env, hostString, inv)
	if err != nil {
		t.reportFailure(env, hostString, inv.Args, err)
		result := Failed(t.name, err)
		if env.BreakOnError {
			return result, err
		}
		return result, nil
	}
	return Succeeded(t.name, value), nil
}

func (t *Task) execute(ctx context.Context, env *Env, hostString string, inv Invocation) (value interface{}, err error) {
	phase := "connect"
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &ExecutionError{
				Task:  t.name,
				Host:  hostString,
				Phase: phase,
				Err:   fmt.Errorf("panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	var hostVars map[string]interface{}
	if env.Inventory != nil {
		hostVars = env.Inventory.HostVars(session.InventoryName(hostString))
	}
	vars := common.MergeVars(inv.ExtraVars, common.MergeVars(hostVars, inv.GroupVars))

	username := t.user
	if username == "" {
		username = inv.Username
	}

	sess, err := env.Connector.Connect(ctx, hostString, username, inv.Password)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &session.ConnectionError{Host: hostString, Err: errors.New("connector returned no session")}
	}
	env.Sessions.Add(sess)

	c := newContext(t.name, hostString, sess, vars, inv.Args, env.Quiet)
	defer c.release()
	ctx = WithContext(ctx, c)

	phase = "pre-hook"
	if err := env.Hooks.runPre(ctx, c); err != nil {
		return nil, &ExecutionError{Task: t.name, Host: hostString, Phase: phase, Err: err}
	}

	phase = "task"
	value, err = t.fn(ctx, inv.Args)
	if err != nil {
		return nil, &ExecutionError{Task: t.name, Host: hostString, Phase: phase, Err: err}
	}

	phase = "post-hook"
	if err := env.Hooks.runPost(ctx, c); err != nil {
		return nil, &ExecutionError{Task: t.name, Host: hostString, Phase: phase, Err: err}
	}
	return value, nil
}

func (t *Task) reportFailure(env *Env, hostString string, args Args, err error) {
	fields := map[string]interface{}{
		"task":  t.name,
		"host":  hostString,
		"args":  args.Positional,
		"error": err.Error(),
	}
	if len(args.Keyword) > 0 {
		fields["kwargs"] = args.Keyword
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) && len(execErr.Stack) > 0 {
		fields["stack"] = string(execErr.Stack)
	} else if common.IsDebug() {
		fields["stack"] = string(debug.Stack())
	}
	common.NewRunLogger(env.RunID).Error("Task failed", fields)
}
