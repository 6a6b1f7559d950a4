package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultTimeout = 30 * time.Second

// Connector opens sessions. username is the caller's preferred remote user;
// a "user@" prefix in hostString takes precedence over it.
type Connector interface {
	Connect(ctx context.Context, hostString, username, password string) (Session, error)
}

// ConnectionError reports a failure to reach or authenticate against a host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SSHConnector dials hosts with golang.org/x/crypto/ssh.
type SSHConnector struct {
	cfg   config.SSHConfig
	quiet bool
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSSHConnector creates a connector for the given SSH settings. When quiet
// is set, remote command output is not echoed to the terminal.
func NewSSHConnector(cfg config.SSHConfig, quiet bool) *SSHConnector {
	d := &net.Dialer{Timeout: timeoutFor(cfg)}
	return &SSHConnector{cfg: cfg, quiet: quiet, dial: d.DialContext}
}

func timeoutFor(cfg config.SSHConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Second
	}
	return defaultTimeout
}

// ValidateAuth rejects contradictory authentication settings before any
// network activity.
func ValidateAuth(cfg config.SSHConfig, password string) error {
	if cfg.DisablePubkey && password == "" {
		return common.NewConfigurationError("public key authentication is disabled but no password was provided")
	}
	return nil
}

// Connect parses hostString, authenticates and returns an open session.
func (c *SSHConnector) Connect(ctx context.Context, hostString, username, password string) (Session, error) {
	if err := ValidateAuth(c.cfg, password); err != nil {
		return nil, err
	}
	spec, err := ParseHostString(hostString)
	if err != nil {
		return nil, common.NewConfigurationError("%v", err)
	}

	resolved, err := c.resolveUsername(spec, username)
	if err != nil {
		return nil, &ConnectionError{Host: spec.Hostname, Err: err}
	}

	authMethods, closeAgent := c.buildAuthMethods(spec.Hostname, password)
	defer closeAgent()
	if len(authMethods) == 0 {
		return nil, &ConnectionError{
			Host: spec.Hostname,
			Err:  errors.New("no SSH authentication methods available: SSH_AUTH_SOCK is not set and no private key could be loaded"),
		}
	}

	hostKeyCallback, err := c.buildHostKeyCallback(spec.Hostname)
	if err != nil {
		return nil, &ConnectionError{Host: spec.Hostname, Err: err}
	}

	clientConfig := &ssh.ClientConfig{
		User:            resolved,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeoutFor(c.cfg),
		ClientVersion:   "SSH-2.0-spindle",
	}

	addr := spec.Address(c.cfg.Port)
	common.LogDebug("Connecting", map[string]interface{}{
		"host": spec.Hostname,
		"addr": addr,
		"user": resolved,
	})
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Host: spec.Hostname, Err: fmt.Errorf("failed to dial %s: %w", addr, err)}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Host: spec.Hostname, Err: explainHandshakeError(err)}
	}

	return &SSHSession{
		host:     spec.Hostname,
		username: resolved,
		client:   ssh.NewClient(sshConn, chans, reqs),
		quiet:    c.quiet,
	}, nil
}

func (c *SSHConnector) resolveUsername(spec HostSpec, username string) (string, error) {
	if resolved := spec.ResolveUser(username); resolved != "" {
		return resolved, nil
	}
	if c.cfg.User != "" {
		return c.cfg.User, nil
	}
	currentUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to determine local user: %w", err)
	}
	return currentUser.Username, nil
}

// buildAuthMethods returns the auth methods in preference order and a func
// releasing the agent connection once the handshake is done.
func (c *SSHConnector) buildAuthMethods(host, password string) ([]ssh.AuthMethod, func()) {
	var authMethods []ssh.AuthMethod
	closeAgent := func() {}

	if !c.cfg.DisablePubkey {
		for _, keyPath := range c.cfg.PrivateKeys {
			if method := loadPrivateKeyFile(keyPath, host); method != nil {
				authMethods = append(authMethods, method)
			}
		}
		if !c.cfg.IdentitiesOnly {
			if method, conn := buildSSHAgentAuth(host); method != nil {
				authMethods = append(authMethods, method)
				closeAgent = func() { _ = conn.Close() }
			}
		}
	}

	if password != "" {
		authMethods = append(authMethods, ssh.Password(password), buildKeyboardInteractiveAuth(password))
	}
	return authMethods, closeAgent
}

// loadPrivateKeyFile loads a private key from file
func loadPrivateKeyFile(keyPath, host string) ssh.AuthMethod {
	keyPath = expandHome(keyPath)

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		common.LogWarn("Failed to read SSH private key file", map[string]interface{}{
			"host":     host,
			"key_path": keyPath,
			"error":    err.Error(),
		})
		return nil
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		common.LogWarn("Failed to parse SSH private key file", map[string]interface{}{
			"host":     host,
			"key_path": keyPath,
			"error":    err.Error(),
		})
		return nil
	}

	return ssh.PublicKeys(signer)
}

// buildSSHAgentAuth builds SSH agent authentication if available
func buildSSHAgentAuth(host string) (ssh.AuthMethod, net.Conn) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		common.LogWarn("Failed to connect to SSH agent", map[string]interface{}{
			"host":  host,
			"error": err.Error(),
		})
		return nil, nil
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), conn
}

// buildKeyboardInteractiveAuth answers every hidden prompt with the password,
// for servers that only expose keyboard-interactive.
func buildKeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			if !echos[i] {
				answers[i] = password
			}
		}
		return answers, nil
	})
}

func (c *SSHConnector) buildHostKeyCallback(host string) (ssh.HostKeyCallback, error) {
	if !c.cfg.HostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // host key checking is opt-in
	}
	path := expandHome(c.cfg.KnownHosts)
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts from %s for host %s: %w", path, host, err)
	}
	return callback, nil
}

// explainHandshakeError adds a hint to authentication failures.
func explainHandshakeError(err error) error {
	errorStr := err.Error()
	if strings.Contains(errorStr, "unable to authenticate") ||
		strings.Contains(errorStr, "no supported methods remain") {
		return fmt.Errorf("SSH authentication failed; check the key setup, that the SSH agent is running, or pass a password: %w", err)
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("host key is not in known_hosts: %w", err)
		}
		return fmt.Errorf("host key mismatch, possible man-in-the-middle: %w", err)
	}
	return err
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return homeDir + p[1:]
		}
	}
	return p
}
