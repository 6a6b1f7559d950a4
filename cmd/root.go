package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/config"
	"github.com/AlexanderGrooff/spindle/pkg/inventory"
	"github.com/AlexanderGrooff/spindle/pkg/session"
	"github.com/AlexanderGrooff/spindle/pkg/task"
	"github.com/AlexanderGrooff/spindle/pkg/taskfile"
)

// DefaultConfigFile is loaded from the working directory when --config is not given.
const DefaultConfigFile = "spindle.yaml"

// App holds what the commands share for one invocation.
type App struct {
	// Tasks holds tasks registered from Go code. Tasks from the task file are
	// added to it when a command needs them.
	Tasks *task.Registry
	// NewConnector builds the SSH connector; tests replace it.
	NewConnector func(cfg config.SSHConfig, quiet bool) session.Connector
	// ReadPassword prompts for --ask-pass.
	ReadPassword func(prompt string) (string, error)

	configFile string
	debug      bool
	cfg        *config.Config
	tasksFile  string
	tasksReady bool
}

// NewApp returns an App wired to the real SSH transport and terminal.
func NewApp(tasks *task.Registry) *App {
	if tasks == nil {
		tasks = task.NewRegistry()
	}
	return &App{
		Tasks: tasks,
		NewConnector: func(cfg config.SSHConfig, quiet bool) session.Connector {
			return session.NewSSHConnector(cfg, quiet)
		},
		ReadPassword: session.PromptPassword,
	}
}

// flagBindings maps configuration keys to the command line flags overriding them.
var flagBindings = map[string]string{
	"inventory":                 "inventory",
	"taskfile":                  "taskfile",
	"execution.quiet":           "quiet",
	"execution.parallel":        "parallel",
	"execution.sleep":           "sleep",
	"execution.break_on_error":  "break-on-error",
	"execution.max_concurrency": "max-concurrency",
	"ssh.disable_pubkey":        "disable-pubkey",
	"ssh.user":                  "user",
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	v := viper.New()
	for key, flag := range flagBindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	configPaths := []string{}
	if a.configFile != "" {
		configPaths = append(configPaths, a.configFile)
	} else if _, err := os.Stat(DefaultConfigFile); err == nil {
		configPaths = append(configPaths, DefaultConfigFile)
	}

	cfg, err := config.LoadWithViper(v, configPaths...)
	if err != nil {
		return common.NewConfigurationError("failed to load configuration: %v", err)
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if err := common.ConfigureLogging(cfg.Logging); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// loadTasks adds the task file's tasks to a.Tasks once. An explicitly
// configured task file must exist; otherwise one is searched for upwards from
// the working directory.
func (a *App) loadTasks() error {
	if a.tasksReady {
		return nil
	}
	path := a.cfg.TaskFile
	if path == "" {
		found, err := taskfile.Discover(".")
		if err != nil {
			common.LogDebug("No task file found", map[string]interface{}{"error": err.Error()})
			a.tasksReady = true
			return nil
		}
		path = found
	}
	if err := taskfile.Load(path, a.Tasks); err != nil {
		return common.NewConfigurationError("failed to load task file: %v", err)
	}
	a.tasksFile = path
	a.tasksReady = true
	return nil
}

func (a *App) loadInventory() (*inventory.Inventory, error) {
	path := inventory.Discover(a.cfg.Inventory, ".")
	if path == "" {
		return inventory.New(), nil
	}
	inv, err := inventory.Load(path)
	if err != nil {
		return nil, common.NewConfigurationError("failed to load inventory: %v", err)
	}
	return inv, nil
}

// NewRootCmd builds the spindle command tree around app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "spindle",
		Short:         "Run tasks across hosts over SSH",
		Long:          `spindle runs named tasks on one or many hosts over SSH, one after another or in parallel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&app.configFile, "config", "c", "", "Config file path (default: ./spindle.yaml)")
	root.PersistentFlags().BoolVar(&app.debug, "debug", false, "Set logging level to debug")
	root.PersistentFlags().StringP("taskfile", "f", "", "Task file (default: nearest Spindlefile.yml)")
	root.PersistentFlags().StringP("inventory", "i", "", "Inventory file, directory or colon-separated list")

	root.AddCommand(newRunCmd(app))
	root.AddCommand(newListCmd(app))
	root.AddCommand(newInventoryCmd(app))
	return root
}

// ExecuteWith runs the CLI with the Go-registered tasks in tasks.
func ExecuteWith(ctx context.Context, tasks *task.Registry, args []string, out io.Writer) error {
	root := NewRootCmd(NewApp(tasks))
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

// Execute runs the CLI with os.Args.
func Execute(ctx context.Context, tasks *task.Registry) error {
	return ExecuteWith(ctx, tasks, os.Args[1:], os.Stdout)
}
