package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/google/shlex"
)

// RunLocal executes a command on the machine running spindle. The command is
// split with shell quoting rules but not interpreted by a shell unless
// opts.UseShell is set.
func RunLocal(ctx context.Context, command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if opts == nil {
		opts = NewCommandOptions()
	}

	cmdToRun := BuildCommand(command, opts)
	splitCmd, err := shlex.Split(cmdToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to split command %s: %w", command, err)
	}
	if len(splitCmd) == 0 {
		return nil, fmt.Errorf("command %q has no program", command)
	}
	absProg, err := exec.LookPath(splitCmd[0])
	if err != nil {
		return nil, fmt.Errorf("failed to find %s in $PATH: %w", splitCmd[0], err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, absProg, splitCmd[1:]...)
	var echoOut, echoErr *HostWriter
	if opts.Quiet {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		echoOut = NewHostWriter(os.Stdout, "local")
		echoErr = NewHostWriter(os.Stderr, "local")
		cmd.Stdout = io.MultiWriter(&stdout, echoOut)
		cmd.Stderr = io.MultiWriter(&stderr, echoErr)
	}

	common.DebugOutput("Running local command: %s", cmd.String())
	err = cmd.Run()
	if echoOut != nil {
		_ = echoOut.Flush()
		_ = echoErr.Flush()
	}

	cleanedStdout := CleanSudoPrompts(stdout.String())
	cleanedStderr := CleanSudoPrompts(stderr.String())
	if err != nil {
		rc := -1
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			rc = exitError.ExitCode()
		}
		return NewCommandResult(cmdToRun, rc, cleanedStdout, cleanedStderr, fmt.Errorf("failed to execute command %q: %w", cmdToRun, err)), nil
	}
	return NewCommandResult(cmdToRun, 0, cleanedStdout, cleanedStderr, nil), nil
}
