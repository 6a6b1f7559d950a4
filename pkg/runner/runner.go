// Package runner fans a task out over a set of hosts, one after another or
// through a bounded pool of concurrent units, and collects the outcomes.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/inventory"
	"github.com/AlexanderGrooff/spindle/pkg/metrics"
	"github.com/AlexanderGrooff/spindle/pkg/session"
	"github.com/AlexanderGrooff/spindle/pkg/task"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options are the per-run settings.
type Options struct {
	// Parallel runs one unit per host through the pool instead of visiting
	// hosts in order.
	Parallel bool
	// Sleep is the pause between two hosts in sequential mode.
	Sleep time.Duration
	// MaxConcurrency bounds the pool in parallel mode; zero or less means one
	// worker per host.
	MaxConcurrency int
	BreakOnError   bool

	Username string
	Password string
	// ExtraVars win over every inventory var.
	ExtraVars map[string]interface{}
	// GroupVars are the vars of the targeted group; a host's own inventory
	// vars win over them.
	GroupVars map[string]interface{}
	Args      task.Args
}

type Runner struct {
	connector      session.Connector
	inventory      *inventory.Inventory
	hooks          *task.Hooks
	metrics        *metrics.Recorder
	pubkeyDisabled bool
	quiet          bool
	sleep          func(ctx context.Context, d time.Duration) error
}

type Option func(*Runner)

// WithInventory supplies host vars and group resolution.
func WithInventory(inv *inventory.Inventory) Option {
	return func(r *Runner) { r.inventory = inv }
}

func WithHooks(hooks *task.Hooks) Option {
	return func(r *Runner) { r.hooks = hooks }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = rec }
}

// WithPubkeyDisabled makes a password mandatory for every run.
func WithPubkeyDisabled(disabled bool) Option {
	return func(r *Runner) { r.pubkeyDisabled = disabled }
}

// WithQuiet suppresses echoing of command output.
func WithQuiet(quiet bool) Option {
	return func(r *Runner) { r.quiet = quiet }
}

func New(connector session.Connector, opts ...Option) *Runner {
	r := &Runner{
		connector: connector,
		hooks:     task.NewHooks(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) validate(t *task.Task, opts Options) error {
	if t == nil {
		return common.NewConfigurationError("no task given")
	}
	if r.connector == nil {
		return common.NewConfigurationError("runner has no connector")
	}
	if r.pubkeyDisabled && opts.Password == "" {
		return common.NewConfigurationError("public key authentication is disabled but no password was provided")
	}
	if opts.Sleep < 0 {
		return common.NewConfigurationError("sleep must not be negative, got %s", opts.Sleep)
	}
	return nil
}

// Run executes t on every host and returns the outcome per host. Every
// session opened during the run is closed before Run returns.
//
// The returned error is a configuration error, a cancellation during the
// sequential sleep, or, in sequential mode with BreakOnError, the failure
// that stopped the run. Results is non-nil whenever validation passed.
func (r *Runner) Run(ctx context.Context, t *task.Task, hosts []string, opts Options) (*Results, error) {
	if err := r.validate(t, opts); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	sessions := session.NewRegistry()
	defer sessions.Dispose()

	env := &task.Env{
		Connector:    r.connector,
		Sessions:     sessions,
		Hooks:        r.hooks,
		BreakOnError: opts.BreakOnError,
		Quiet:        r.quiet,
		RunID:        runID,
	}
	if r.inventory != nil {
		env.Inventory = r.inventory
	}

	mode := "sequential"
	if opts.Parallel {
		mode = "parallel"
	}
	log := common.NewRunLogger(runID)
	log.Info("Starting run", map[string]interface{}{
		"task":  t.Name(),
		"hosts": len(hosts),
		"mode":  mode,
	})
	if len(hosts) == 0 {
		log.Warn("No hosts to run on", map[string]interface{}{"task": t.Name()})
	}

	start := time.Now()
	defer func() { r.metrics.ObserveRun(t.Name(), mode, time.Since(start)) }()

	if opts.Parallel {
		return r.runConcurrently(ctx, t, env, hosts, opts, log), nil
	}
	return r.runSequentially(ctx, t, env, hosts, opts, log)
}

func (r *Runner) invocation(opts Options) task.Invocation {
	return task.Invocation{
		ExtraVars: opts.ExtraVars,
		GroupVars: opts.GroupVars,
		Username:  opts.Username,
		Password:  opts.Password,
		Args:      opts.Args,
	}
}

func (r *Runner) runSequentially(ctx context.Context, t *task.Task, env *task.Env, hosts []string, opts Options, log *common.RunLogger) (*Results, error) {
	results := newResults(env.RunID)
	for i, host := range hosts {
		if err := ctx.Err(); err != nil {
			log.Warn("Run cancelled", map[string]interface{}{
				"task":      t.Name(),
				"remaining": len(hosts) - i,
			})
			return results, err
		}
		res, err := r.runOne(ctx, t, env, host, opts)
		results.set(host, res)
		if err != nil {
			log.Warn("Stopping run after failure", map[string]interface{}{
				"task": t.Name(),
				"host": host,
			})
			return results, err
		}
		if opts.Sleep > 0 && i < len(hosts)-1 {
			if err := r.sleep(ctx, opts.Sleep); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (r *Runner) runConcurrently(ctx context.Context, t *task.Task, env *task.Env, hosts []string, opts Options, log *common.RunLogger) *Results {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = len(hosts)
	}
	slots := make([]task.Result, len(hosts))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, host := range hosts {
		g.Go(func() error {
			res, err := r.runOne(ctx, t, env, host, opts)
			slots[i] = res
			if err != nil {
				log.Warn("Unit stopped after failure", map[string]interface{}{
					"task": t.Name(),
					"host": host,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	results := newResults(env.RunID)
	for i, host := range hosts {
		results.set(host, slots[i])
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, t *task.Task, env *task.Env, host string, opts Options) (task.Result, error) {
	start := time.Now()
	res, err := t.Run(ctx, env, host, r.invocation(opts))
	r.metrics.ObserveTask(t.Name(), host, opts.Username, failureKind(res), time.Since(start))
	return res, err
}

func failureKind(res task.Result) string {
	if !res.Failed() {
		return ""
	}
	var connErr *session.ConnectionError
	var execErr *task.ExecutionError
	switch {
	case errors.As(res.Err(), &connErr):
		return "connection"
	case common.IsConfigurationError(res.Err()):
		return "configuration"
	case errors.As(res.Err(), &execErr):
		return "execution"
	default:
		return "other"
	}
}

// Targets combines explicit hosts with the hosts of group and returns the
// group vars, meant for Options.GroupVars. An empty group yields no vars.
func (r *Runner) Targets(hosts []string, group string) ([]string, map[string]interface{}, error) {
	targets := append([]string(nil), hosts...)
	if group == "" {
		return targets, nil, nil
	}
	g, err := r.inventory.ResolveGroup(group)
	if err != nil {
		return nil, nil, err
	}
	return append(targets, g.Hosts...), common.CopyMap(g.Vars), nil
}

// RunGroup runs t on every host of an inventory group. Vars resolve as
// opts.ExtraVars, then the host's inventory vars, then the group vars.
func (r *Runner) RunGroup(ctx context.Context, t *task.Task, group string, opts Options) (*Results, error) {
	hosts, vars, err := r.Targets(nil, group)
	if err != nil {
		return nil, err
	}
	opts.GroupVars = common.MergeVars(opts.GroupVars, vars)
	return r.Run(ctx, t, hosts, opts)
}
