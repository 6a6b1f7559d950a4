package runtime

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// CommandResult represents the result of a command execution
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Error    error
}

func NewCommandResult(command string, exitCode int, stdout string, stderr string, err error) *CommandResult {
	return &CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Error:    err,
	}
}

// Failed reports whether the command could not run or exited non-zero.
func (r *CommandResult) Failed() bool {
	return r.Error != nil || r.ExitCode != 0
}

// CommandOptions holds configuration for command execution
type CommandOptions struct {
	SudoUser    string
	UseSudo     bool
	UseShell    bool
	BecomeFlags string
	// Quiet suppresses echoing command output to the terminal.
	Quiet bool
}

// NewCommandOptions returns options for a plain, non-privileged command.
func NewCommandOptions() *CommandOptions {
	return &CommandOptions{}
}

// WithSudo runs the command through sudo as the given user; an empty user means root.
func (co *CommandOptions) WithSudo(user string) *CommandOptions {
	co.UseSudo = true
	co.SudoUser = user
	return co
}

// WithShell wraps the command in bash -c.
func (co *CommandOptions) WithShell() *CommandOptions {
	co.UseShell = true
	return co
}

// WithQuiet disables output echoing.
func (co *CommandOptions) WithQuiet(quiet bool) *CommandOptions {
	co.Quiet = quiet
	return co
}

// escapeShellCommand properly escapes a command for use within bash -c '...'
func escapeShellCommand(command string) string {
	escapedCmd := strings.ReplaceAll(command, "\r\n", "\n")
	return strings.ReplaceAll(escapedCmd, "'", "'\\''")
}

// BuildCommand constructs the final command string based on options
func BuildCommand(command string, opts *CommandOptions) string {
	if command == "" {
		return ""
	}
	if opts == nil {
		return command
	}

	if opts.UseShell {
		command = fmt.Sprintf("/bin/bash -c '%s'", escapeShellCommand(command))
	}
	if !opts.UseSudo {
		return command
	}

	user := opts.SudoUser
	if user == "" {
		user = "root"
	}
	parts := []string{"sudo", "-n", "-u", user}
	if opts.BecomeFlags != "" {
		parts = append(parts, opts.BecomeFlags)
	}
	parts = append(parts, command)
	return strings.Join(parts, " ")
}

// HostWriter prefixes every line written through it with a host tag.
// Partial lines are buffered until their newline arrives or Flush is called.
type HostWriter struct {
	mu     sync.Mutex
	writer io.Writer
	prefix string
	buf    bytes.Buffer
}

// NewHostWriter creates a HostWriter that tags lines with "[host] ".
func NewHostWriter(w io.Writer, host string) *HostWriter {
	return &HostWriter{writer: w, prefix: fmt.Sprintf("[%s] ", host)}
}

func (hw *HostWriter) Write(p []byte) (int, error) {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	hw.buf.Write(p)
	for {
		line, err := hw.buf.ReadBytes('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			hw.buf.Reset()
			hw.buf.Write(line)
			break
		}
		if _, err := fmt.Fprintf(hw.writer, "%s%s", hw.prefix, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes out any buffered partial line.
func (hw *HostWriter) Flush() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.buf.Len() == 0 {
		return nil
	}
	_, err := fmt.Fprintf(hw.writer, "%s%s\n", hw.prefix, hw.buf.String())
	hw.buf.Reset()
	return err
}

// CleanSudoPrompts removes sudo password prompts from the output
func CleanSudoPrompts(output string) string {
	lines := strings.Split(output, "\n")
	var cleanedLines []string

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "[sudo] password for ") ||
			strings.HasPrefix(trimmedLine, "sudo: no tty present") ||
			strings.HasPrefix(trimmedLine, "sudo: no password was provided") ||
			strings.HasPrefix(trimmedLine, "sudo: a password is required") {
			continue
		}
		cleanedLines = append(cleanedLines, line)
	}

	return strings.Join(cleanedLines, "\n")
}

// CheckSudoPasswordError checks if the error is due to sudo asking for password
func CheckSudoPasswordError(stderrOutput, host string) error {
	if strings.Contains(stderrOutput, "[sudo] password") ||
		strings.Contains(stderrOutput, "sudo: no tty present") ||
		strings.Contains(stderrOutput, "sudo: a password is required") ||
		strings.Contains(stderrOutput, "sudo: no password was provided") {
		return fmt.Errorf("sudo requires a password on host %s but the session is non-interactive; configure passwordless sudo for this user", host)
	}
	return nil
}
