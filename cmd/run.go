package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/metrics"
	"github.com/AlexanderGrooff/spindle/pkg/runner"
	"github.com/AlexanderGrooff/spindle/pkg/task"
)

type runFlags struct {
	hosts    []string
	group    string
	password string
	askPass  bool
	args     []string
}

func newRunCmd(app *App) *cobra.Command {
	flags := &runFlags{}
	runCmd := &cobra.Command{
		Use:   "run TASK [ARGS...]",
		Short: "Run a task on the given hosts",
		Long: `Run a task on every host given with -H and every host of the group given with -g.
Arguments after the task name are passed to the task as positional arguments;
--args key:value pairs are passed as keyword arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, flags, args)
		},
	}

	f := runCmd.Flags()
	f.StringArrayVarP(&flags.hosts, "host", "H", nil, "Target host as [user@]host[:port] (repeatable)")
	f.StringVarP(&flags.group, "group", "g", "", "Inventory group to run on")
	f.BoolP("parallel", "P", false, "Run the task on all hosts in parallel")
	f.IntP("sleep", "s", 0, "Seconds to sleep between two hosts")
	f.BoolP("disable-pubkey", "k", false, "Do not use public keys to authenticate")
	f.StringVarP(&flags.password, "password", "p", "", "Password to connect with")
	f.BoolVar(&flags.askPass, "ask-pass", false, "Prompt for the connection password")
	f.BoolP("quiet", "q", false, "Suppress command output")
	f.StringArrayVar(&flags.args, "args", nil, "Keyword argument for the task as key:value (repeatable)")
	f.Bool("break-on-error", false, "Stop at the first failing host")
	f.Int("max-concurrency", 10, "Maximum number of hosts handled at once in parallel mode")
	f.StringP("user", "u", "", "Remote user when neither the host nor the task names one")
	return runCmd
}

// parseKeywordArgs turns key:value pairs into a map. The value may contain colons.
func parseKeywordArgs(pairs []string) (map[string]string, error) {
	kwargs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" {
			return nil, common.NewConfigurationError("invalid --args %q, expected key:value", pair)
		}
		kwargs[k] = v
	}
	return kwargs, nil
}

func (a *App) run(cmd *cobra.Command, flags *runFlags, args []string) error {
	if err := a.loadTasks(); err != nil {
		return err
	}
	if len(args) == 0 {
		return common.NewConfigurationError("specify a task to run, please; use `spindle list` to list tasks")
	}
	t, ok := a.Tasks.Get(args[0])
	if !ok {
		return common.NewConfigurationError("unknown task: %s", args[0])
	}
	kwargs, err := parseKeywordArgs(flags.args)
	if err != nil {
		return err
	}

	password := flags.password
	if flags.askPass && password == "" {
		password, err = a.ReadPassword("SSH password: ")
		if err != nil {
			return err
		}
	}

	inv, err := a.loadInventory()
	if err != nil {
		return err
	}

	cfg := a.cfg
	hooks := task.NewHooks()
	pre, post := task.AnnounceHooks()
	hooks.AddPre(pre)
	hooks.AddPost(post)
	rec := metrics.NewRecorder()

	r := runner.New(
		a.NewConnector(cfg.SSH, cfg.Execution.Quiet),
		runner.WithInventory(inv),
		runner.WithHooks(hooks),
		runner.WithMetrics(rec),
		runner.WithPubkeyDisabled(cfg.SSH.DisablePubkey),
		runner.WithQuiet(cfg.Execution.Quiet),
	)

	hosts, vars, err := r.Targets(flags.hosts, flags.group)
	if err != nil {
		return err
	}

	common.LogInfo("Running task", map[string]interface{}{
		"taskfile": a.tasksFile,
		"task":     t.Name(),
		"hosts":    hosts,
		"parallel": cfg.Execution.Parallel,
		"quiet":    cfg.Execution.Quiet,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	results, runErr := r.Run(ctx, t, hosts, runner.Options{
		Parallel:       cfg.Execution.Parallel,
		Sleep:          time.Duration(cfg.Execution.Sleep) * time.Second,
		MaxConcurrency: cfg.Execution.MaxConcurrency,
		BreakOnError:   cfg.Execution.BreakOnError,
		Password:       password,
		GroupVars:      vars,
		Args:           task.Args{Positional: args[1:], Keyword: kwargs},
	})
	if results != nil {
		if err := printSummary(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			common.LogWarn("Failed to export metrics", map[string]interface{}{"error": err.Error()})
		}
	}
	if runErr != nil {
		return runErr
	}
	if failed := results.Failed(); len(failed) > 0 {
		return fmt.Errorf("task %s failed on %d of %d hosts: %s", t.Name(), len(failed), results.Len(), strings.Join(failed, ", "))
	}
	return nil
}

func printSummary(w io.Writer, results *runner.Results) error {
	var b strings.Builder
	for _, hr := range results.All() {
		if hr.Result.Failed() {
			fmt.Fprintf(&b, "[%s] failed: %v\n", hr.Host, hr.Result.Err())
		} else {
			fmt.Fprintf(&b, "[%s] ok\n", hr.Host)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
