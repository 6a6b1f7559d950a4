package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/runtime"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is an authenticated connection to one host, owned by a single task
// invocation.
type Session interface {
	// Host is the bare hostname the session is connected to.
	Host() string
	// Username is the remote user the session authenticated as.
	Username() string
	Run(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error)
	Upload(localPath, remotePath string, mode os.FileMode) error
	Download(remotePath, localPath string) error
	Close() error
}

// SSHSession is a Session backed by an x/crypto/ssh client. The SFTP
// subsystem is opened lazily on the first file transfer.
type SSHSession struct {
	host     string
	username string
	client   *ssh.Client
	quiet    bool

	mu         sync.Mutex
	sftpClient *sftp.Client
	closeOnce  sync.Once
	closeErr   error
}

var _ Session = (*SSHSession)(nil)

func (s *SSHSession) Host() string     { return s.host }
func (s *SSHSession) Username() string { return s.username }

// Run executes a command in a fresh SSH channel. A non-zero exit status is
// reported through the result, not the returned error; the error is reserved
// for failures to start the command at all.
func (s *SSHSession) Run(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("not running command on %s: %w", s.host, err)
	}
	if opts == nil {
		opts = runtime.NewCommandOptions().WithQuiet(s.quiet)
	}

	channel, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH channel on host %s: %w", s.host, err)
	}
	defer func() {
		if err := channel.Close(); err != nil && !errors.Is(err, io.EOF) {
			common.DebugOutput("Error closing SSH channel on %s: %v", s.host, err)
		}
	}()

	var stdout, stderr bytes.Buffer
	var echoOut, echoErr *runtime.HostWriter
	if opts.Quiet || s.quiet {
		channel.Stdout = &stdout
		channel.Stderr = &stderr
	} else {
		echoOut = runtime.NewHostWriter(os.Stdout, s.host)
		echoErr = runtime.NewHostWriter(os.Stderr, s.host)
		channel.Stdout = io.MultiWriter(&stdout, echoOut)
		channel.Stderr = io.MultiWriter(&stderr, echoErr)
	}

	cmdToRun := runtime.BuildCommand(command, opts)
	common.DebugOutput("Running remote command on %s: %s", s.host, cmdToRun)
	err = channel.Run(cmdToRun)
	if echoOut != nil {
		_ = echoOut.Flush()
		_ = echoErr.Flush()
	}

	rc := exitCode(err)
	cleanedStdout := runtime.CleanSudoPrompts(stdout.String())
	cleanedStderr := runtime.CleanSudoPrompts(stderr.String())
	if err != nil {
		if sudoErr := runtime.CheckSudoPasswordError(stderr.String(), s.host); sudoErr != nil {
			return runtime.NewCommandResult(cmdToRun, rc, cleanedStdout, cleanedStderr, sudoErr), nil
		}
		return runtime.NewCommandResult(cmdToRun, rc, cleanedStdout, cleanedStderr,
			fmt.Errorf("remote command %q failed on host %s: %w", cmdToRun, s.host, err)), nil
	}
	return runtime.NewCommandResult(cmdToRun, rc, cleanedStdout, cleanedStderr, nil), nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitError *ssh.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitStatus()
	}
	return -1
}

func (s *SSHSession) openSFTP() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftpClient != nil {
		return s.sftpClient, nil
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start SFTP on host %s: %w", s.host, err)
	}
	s.sftpClient = client
	return client, nil
}

// Upload copies a local file to the remote host, creating parent directories.
func (s *SSHSession) Upload(localPath, remotePath string, mode os.FileMode) error {
	client, err := s.openSFTP()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer src.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create remote directory %s on %s: %w", path.Dir(remotePath), s.host, err)
	}
	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s on %s: %w", remotePath, s.host, err)
	}
	defer func() {
		if err := dst.Close(); err != nil {
			common.LogWarn("Failed to close remote file", map[string]interface{}{
				"file":  remotePath,
				"host":  s.host,
				"error": err.Error(),
			})
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s to %s:%s: %w", localPath, s.host, remotePath, err)
	}
	if mode != 0 {
		if err := client.Chmod(remotePath, mode.Perm()); err != nil {
			return fmt.Errorf("failed to set mode %o on %s:%s: %w", mode.Perm(), s.host, remotePath, err)
		}
	}
	return nil
}

// Download copies a remote file to a local path, creating parent directories.
func (s *SSHSession) Download(remotePath, localPath string) error {
	client, err := s.openSFTP()
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s on host %s", remotePath, s.host)
		}
		return fmt.Errorf("failed to open remote file %s on %s: %w", remotePath, s.host, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory for %s: %w", localPath, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy %s:%s to %s: %w", s.host, remotePath, localPath, err)
	}
	return dst.Close()
}

// Close shuts down the SFTP subsystem and the SSH connection. Repeated calls
// return the result of the first one.
func (s *SSHSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sftpClient != nil {
			if err := s.sftpClient.Close(); err != nil {
				common.DebugOutput("Error closing SFTP client on %s: %v", s.host, err)
			}
			s.sftpClient = nil
		}
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
