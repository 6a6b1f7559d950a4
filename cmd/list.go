package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all available tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadTasks(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			names := app.Tasks.Names()
			if len(names) == 0 {
				_, err := fmt.Fprint(out, "\n  No tasks defined.\n\n")
				return err
			}

			var b strings.Builder
			b.WriteString("\n  Available tasks:\n\n")
			for _, name := range names {
				t, _ := app.Tasks.Get(name)
				if t.Description() != "" {
					fmt.Fprintf(&b, "\t%-24s %s\n", name, t.Description())
				} else {
					fmt.Fprintf(&b, "\t%s\n", name)
				}
			}
			b.WriteString("\n")
			_, err := fmt.Fprint(out, b.String())
			return err
		},
	}
}

func newInventoryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "List all available groups of hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := app.loadInventory()
			if err != nil {
				return err
			}
			if inv.Empty() {
				return fmt.Errorf("cannot find inventory")
			}
			return inv.List(cmd.OutOrStdout())
		},
	}
}
