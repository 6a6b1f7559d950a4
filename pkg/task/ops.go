package task

import (
	"context"
	"fmt"
	"os"

	"github.com/AlexanderGrooff/spindle/pkg/runtime"
)

// Exec runs command on the current task's host.
func Exec(ctx context.Context, command string) (*runtime.CommandResult, error) {
	return run(ctx, command, runtime.NewCommandOptions())
}

// Sudo runs command on the current task's host as user via sudo. An empty user
// means root.
func Sudo(ctx context.Context, command, user string) (*runtime.CommandResult, error) {
	return run(ctx, command, runtime.NewCommandOptions().WithSudo(user))
}

// Shell runs command through bash on the current task's host.
func Shell(ctx context.Context, command string) (*runtime.CommandResult, error) {
	return run(ctx, command, runtime.NewCommandOptions().WithShell())
}

func run(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	c, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := c.Session()
	if err != nil {
		return nil, err
	}
	res, err := sess.Run(ctx, command, opts.WithQuiet(c.Quiet))
	if err != nil {
		return res, err
	}
	return res, commandError(res)
}

// Local runs command on the machine spindle runs on.
func Local(ctx context.Context, command string) (*runtime.CommandResult, error) {
	opts := runtime.NewCommandOptions().WithShell()
	if c, err := FromContext(ctx); err == nil {
		opts.WithQuiet(c.Quiet)
	}
	res, err := runtime.RunLocal(ctx, command, opts)
	if err != nil {
		return res, err
	}
	return res, commandError(res)
}

// Upload copies a local file to the current task's host.
func Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	c, err := FromContext(ctx)
	if err != nil {
		return err
	}
	sess, err := c.Session()
	if err != nil {
		return err
	}
	if err := sess.Upload(localPath, remotePath, mode); err != nil {
		return fmt.Errorf("upload %s to %s:%s: %w", localPath, c.Host, remotePath, err)
	}
	return nil
}

// Download copies a file from the current task's host.
func Download(ctx context.Context, remotePath, localPath string) error {
	c, err := FromContext(ctx)
	if err != nil {
		return err
	}
	sess, err := c.Session()
	if err != nil {
		return err
	}
	if err := sess.Download(remotePath, localPath); err != nil {
		return fmt.Errorf("download %s:%s to %s: %w", c.Host, remotePath, localPath, err)
	}
	return nil
}

func commandError(res *runtime.CommandResult) error {
	if res == nil || !res.Failed() {
		return nil
	}
	if res.Error != nil {
		return res.Error
	}
	return fmt.Errorf("command %q exited with code %d", res.Command, res.ExitCode)
}
