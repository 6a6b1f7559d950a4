package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/AlexanderGrooff/spindle/pkg/runtime"
	"github.com/AlexanderGrooff/spindle/pkg/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	host     string
	username string

	mu       sync.Mutex
	commands []string
	closed   int
}

func (s *stubSession) Host() string     { return s.host }
func (s *stubSession) Username() string { return s.username }
func (s *stubSession) Run(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	built := runtime.BuildCommand(command, opts)
	s.mu.Lock()
	s.commands = append(s.commands, built)
	s.mu.Unlock()
	if strings.Contains(command, "false") {
		return runtime.NewCommandResult(built, 1, "", "", nil), nil
	}
	return runtime.NewCommandResult(built, 0, "out:"+command, "", nil), nil
}
func (s *stubSession) Upload(localPath, remotePath string, mode os.FileMode) error { return nil }
func (s *stubSession) Download(remotePath, localPath string) error {
	return fmt.Errorf("no such file %s", remotePath)
}
func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type stubConnector struct {
	mu        sync.Mutex
	usernames map[string]string
	sessions  []*stubSession
	fail      map[string]bool
}

func newStubConnector() *stubConnector {
	return &stubConnector{usernames: map[string]string{}, fail: map[string]bool{}}
}

func (c *stubConnector) Connect(ctx context.Context, hostString, username, password string) (session.Session, error) {
	spec, err := session.ParseHostString(hostString)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[spec.Hostname] {
		return nil, &session.ConnectionError{Host: spec.Hostname, Err: errors.New("connection refused")}
	}
	user := spec.ResolveUser(username)
	if user == "" {
		user = "nobody"
	}
	c.usernames[hostString] = user
	s := &stubSession{host: spec.Hostname, username: user}
	c.sessions = append(c.sessions, s)
	return s, nil
}

type staticInventory map[string]map[string]interface{}

func (i staticInventory) HostVars(host string) map[string]interface{} { return i[host] }

func newEnv(conn session.Connector) *Env {
	return &Env{Connector: conn, Sessions: session.NewRegistry(), Hooks: NewHooks(), Quiet: true}
}

func mustTask(t *testing.T, namespace, name string, fn Func, opts ...Option) *Task {
	t.Helper()
	tk, err := New(namespace, name, fn, opts...)
	require.NoError(t, err)
	return tk
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		namespace string
		fn        string
		want      string
	}{
		{"", "deploy", "deploy"},
		{"spindlefile", "deploy", "deploy"},
		{"Spindlefile", "deploy", "deploy"},
		{"web", "restart", "web.restart"},
		{"  ", "restart", "restart"},
	}
	for _, tt := range tests {
		t.Run(tt.namespace+"/"+tt.fn, func(t *testing.T) {
			assert.Equal(t, tt.want, QualifiedName(tt.namespace, tt.fn))
		})
	}
}

func TestNewRejectsInvalidTasks(t *testing.T) {
	_, err := New("web", "", func(ctx context.Context, args Args) (interface{}, error) { return nil, nil })
	assert.Error(t, err)
	_, err = New("web", "restart", nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, args Args) (interface{}, error) { return nil, nil }
	require.NoError(t, reg.Register(mustTask(t, "web", "restart", noop)))
	require.NoError(t, reg.Register(mustTask(t, "", "deploy", noop, WithDescription("ship it"))))

	err := reg.Register(mustTask(t, "web", "restart", noop))
	assert.ErrorContains(t, err, "already registered")

	assert.Equal(t, []string{"deploy", "web.restart"}, reg.Names())
	got, ok := reg.Get("deploy")
	require.True(t, ok)
	assert.Equal(t, "ship it", got.Description())
	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRunPopulatesContext(t *testing.T) {
	conn := newStubConnector()
	env := newEnv(conn)
	env.Inventory = staticInventory{"db1": {"role": "db", "port": 5432}}

	var seen *Context
	var vars map[string]interface{}
	tk := mustTask(t, "", "inspect", func(ctx context.Context, args Args) (interface{}, error) {
		c, err := FromContext(ctx)
		if err != nil {
			return nil, err
		}
		seen = c
		vars = c.Vars()
		assert.Equal(t, "primary", c.ExtraVars["role"])
		assert.Equal(t, "2024.1", c.ExtraVars["release"])
		assert.Equal(t, 5432, c.ExtraVars["port"])
		s, err := c.Session()
		if err != nil {
			return nil, err
		}
		return s.Host(), nil
	})

	explicit := map[string]interface{}{"role": "primary", "release": "2024.1"}
	res, err := tk.Run(context.Background(), env, "root@db1", Invocation{
		ExtraVars: explicit,
		Args:      Args{Positional: []string{"a"}, Keyword: map[string]string{"k": "v"}},
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, "db1", res.Value())
	assert.Equal(t, "inspect", res.Name())

	require.NotNil(t, seen)
	assert.Equal(t, "root@db1", seen.HostString)
	assert.Equal(t, "db1", seen.Host)
	assert.Equal(t, "root", seen.Username)
	want := map[string]interface{}{"role": "primary", "release": "2024.1", "port": 5432}
	if diff := cmp.Diff(want, seen.ExtraVars); diff != "" {
		t.Errorf("extra vars mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]interface{}{"role": "primary", "release": "2024.1"}, explicit, "explicit vars must not be mutated")
	assert.Equal(t, "root@db1", vars["host_string"])
	assert.Equal(t, []interface{}{"a"}, vars["args"])

	assert.True(t, seen.Released())
	_, err = seen.Session()
	assert.ErrorIs(t, err, ErrContextReleased)
	assert.Equal(t, 1, env.Sessions.Len())
}

func TestRunUsernamePrecedence(t *testing.T) {
	noop := func(ctx context.Context, args Args) (interface{}, error) { return nil, nil }
	tests := []struct {
		name     string
		opts     []Option
		host     string
		caller   string
		wantUser string
	}{
		{"host string wins", []Option{WithUser("deploy")}, "ops@web1", "alice", "ops"},
		{"task user over caller", []Option{WithUser("deploy")}, "web1", "alice", "deploy"},
		{"caller user", nil, "web1", "alice", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newStubConnector()
			tk := mustTask(t, "", "noop", noop, tt.opts...)
			_, err := tk.Run(context.Background(), newEnv(conn), tt.host, Invocation{Username: tt.caller})
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, conn.usernames[tt.host])
		})
	}
}

func TestRunCapturesFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		fn        Func
		failHost  bool
		wantPhase string
		wantStack bool
		wantConn  bool
	}{
		{
			name:      "function error",
			fn:        func(ctx context.Context, args Args) (interface{}, error) { return "partial", boom },
			wantPhase: "task",
		},
		{
			name:      "panic",
			fn:        func(ctx context.Context, args Args) (interface{}, error) { panic("kaboom") },
			wantPhase: "task",
			wantStack: true,
		},
		{
			name:     "connect failure",
			fn:       func(ctx context.Context, args Args) (interface{}, error) { return nil, nil },
			failHost: true,
			wantConn: true,
		},
	}
	for _, tt := range tests {
		for _, breakOnError := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/break=%v", tt.name, breakOnError), func(t *testing.T) {
				conn := newStubConnector()
				conn.fail["web1"] = tt.failHost
				env := newEnv(conn)
				env.BreakOnError = breakOnError
				tk := mustTask(t, "web", "broken", tt.fn)

				res, err := tk.Run(context.Background(), env, "web1", Invocation{})
				require.True(t, res.Failed())
				assert.Nil(t, res.Value())
				if breakOnError {
					assert.Same(t, res.Err(), err)
				} else {
					assert.NoError(t, err)
				}

				if tt.wantConn {
					var connErr *session.ConnectionError
					assert.ErrorAs(t, res.Err(), &connErr)
					assert.Equal(t, 0, env.Sessions.Len())
					return
				}
				var execErr *ExecutionError
				require.ErrorAs(t, res.Err(), &execErr)
				assert.Equal(t, tt.wantPhase, execErr.Phase)
				assert.Equal(t, "web.broken", execErr.Task)
				assert.Equal(t, tt.wantStack, len(execErr.Stack) > 0)
				assert.Equal(t, 1, env.Sessions.Len())
			})
		}
	}
}

func TestRunHookOrder(t *testing.T) {
	var order []string
	record := func(label string) Hook {
		return func(ctx context.Context, c *Context) error {
			order = append(order, label+":"+c.Host)
			return nil
		}
	}
	env := newEnv(newStubConnector())
	env.Hooks.AddPre(record("pre1"))
	env.Hooks.AddPre(record("pre2"))
	env.Hooks.AddPost(record("post1"))

	tk := mustTask(t, "", "work", func(ctx context.Context, args Args) (interface{}, error) {
		order = append(order, "fn")
		return nil, nil
	})
	_, err := tk.Run(context.Background(), env, "web1", Invocation{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pre1:web1", "pre2:web1", "fn", "post1:web1"}, order)
}

func TestRunPreHookFailureSkipsFunction(t *testing.T) {
	env := newEnv(newStubConnector())
	env.Hooks.AddPre(func(ctx context.Context, c *Context) error { return errors.New("not today") })
	called := false
	tk := mustTask(t, "", "work", func(ctx context.Context, args Args) (interface{}, error) {
		called = true
		return nil, nil
	})

	res, err := tk.Run(context.Background(), env, "web1", Invocation{})
	require.NoError(t, err)
	assert.False(t, called)
	var execErr *ExecutionError
	require.ErrorAs(t, res.Err(), &execErr)
	assert.Equal(t, "pre-hook", execErr.Phase)
	assert.ErrorContains(t, res.Err(), "not today")
}

func TestRunLayersGroupVarsBeneathHostVars(t *testing.T) {
	env := newEnv(newStubConnector())
	env.Inventory = staticInventory{"web1": {"env": "staging"}}

	var got map[string]interface{}
	tk := mustTask(t, "", "vars", func(ctx context.Context, args Args) (interface{}, error) {
		c, err := FromContext(ctx)
		if err != nil {
			return nil, err
		}
		got = c.ExtraVars
		return nil, nil
	})

	_, err := tk.Run(context.Background(), env, "web1", Invocation{
		GroupVars: map[string]interface{}{"env": "prod", "tier": "frontend", "debug": false},
		ExtraVars: map[string]interface{}{"debug": true},
	})
	require.NoError(t, err)
	want := map[string]interface{}{"env": "staging", "tier": "frontend", "debug": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("vars mismatch (-want +got):\n%s", diff)
	}
}

type nilConnector struct{}

func (nilConnector) Connect(ctx context.Context, hostString, username, password string) (session.Session, error) {
	return nil, nil
}

func TestRunTreatsMissingSessionAsConnectionError(t *testing.T) {
	env := newEnv(nilConnector{})
	called := false
	tk := mustTask(t, "", "work", func(ctx context.Context, args Args) (interface{}, error) {
		called = true
		return nil, nil
	})

	res, err := tk.Run(context.Background(), env, "web1", Invocation{})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	var connErr *session.ConnectionError
	assert.ErrorAs(t, res.Err(), &connErr)
	assert.False(t, called)
	assert.Equal(t, 0, env.Sessions.Len())
	assert.NotPanics(t, env.Sessions.Dispose)
}

func TestRunRejectsIncompleteEnv(t *testing.T) {
	tk := mustTask(t, "", "work", func(ctx context.Context, args Args) (interface{}, error) { return nil, nil })
	_, err := tk.Run(context.Background(), &Env{}, "web1", Invocation{})
	assert.Error(t, err)
}

func TestAmbientOps(t *testing.T) {
	conn := newStubConnector()
	tk := mustTask(t, "", "ops", func(ctx context.Context, args Args) (interface{}, error) {
		res, err := Exec(ctx, "uptime")
		if err != nil {
			return nil, err
		}
		if _, err := Sudo(ctx, "systemctl restart nginx", ""); err != nil {
			return nil, err
		}
		if _, err := Exec(ctx, "false"); err == nil {
			return nil, errors.New("expected failing command to return an error")
		}
		if err := Download(ctx, "/etc/missing", "/tmp/x"); err == nil {
			return nil, errors.New("expected download error")
		}
		return res.Stdout, nil
	})

	res, err := tk.Run(context.Background(), newEnv(conn), "web1", Invocation{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "%v", res.Err())
	assert.Equal(t, "out:uptime", res.Value())
	require.Len(t, conn.sessions, 1)
	assert.Equal(t, []string{"uptime", "sudo -n -u root systemctl restart nginx", "false"}, conn.sessions[0].commands)
}

func TestAmbientOpsOutsideTask(t *testing.T) {
	_, err := Exec(context.Background(), "uptime")
	assert.ErrorIs(t, err, ErrNoContext)
	err = Upload(context.Background(), "a", "b", 0o644)
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestResult(t *testing.T) {
	ok := Succeeded("deploy", 42)
	assert.False(t, ok.Failed())
	assert.Equal(t, 42, ok.Value())
	assert.Equal(t, "<TaskResult deploy, ok>", ok.String())

	failed := Failed("deploy", nil)
	assert.True(t, failed.Failed())
	assert.Error(t, failed.Err())
	assert.Equal(t, "<TaskResult deploy, failed>", failed.String())
}
