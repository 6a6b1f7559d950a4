package inventory

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `
vars:
  env: production
  role: generic
web:
  hosts:
    web3:
    web1:
      weight: 2
    deploy@web2:2222:
  vars:
    role: frontend
db:
  hosts: [db1, db2]
  vars:
    role: database
    backup: true
canary:
  hosts:
    web1:
      role: canary
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSplitInventoryPaths(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", []string{}},
		{"single path", "/opt/inventory", []string{"/opt/inventory"}},
		{"multiple paths", "/opt/inventory:/home/user/inventory:./inventory", []string{"/opt/inventory", "/home/user/inventory", "./inventory"}},
		{"paths with spaces", "/opt/inventory : ./inventory", []string{"/opt/inventory", "./inventory"}},
		{"empty entries", "/opt/inventory::/home/user/inventory:", []string{"/opt/inventory", "/home/user/inventory"}},
		{"only colons", ":::", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitInventoryPaths(tt.input))
		})
	}
}

func TestParseKeepsHostOrder(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)

	web, err := inv.ResolveGroup("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web3", "web1", "deploy@web2:2222"}, web.Hosts)
	assert.Equal(t, map[string]interface{}{"role": "frontend"}, web.Vars)

	db, err := inv.ResolveGroup("db")
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "db2"}, db.Hosts)

	names := []string{}
	for _, g := range inv.Groups() {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"web", "db", "canary"}, names)
}

func TestResolveGroupErrors(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)

	_, err = inv.ResolveGroup("missing")
	assert.True(t, common.IsConfigurationError(err))

	_, err = New().ResolveGroup("web")
	assert.True(t, common.IsConfigurationError(err))
}

func TestHostVarsPrecedence(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)

	tests := []struct {
		host string
		want map[string]interface{}
	}{
		{"db1", map[string]interface{}{"env": "production", "role": "database", "backup": true}},
		{"web1", map[string]interface{}{"env": "production", "role": "canary", "weight": 2}},
		{"root@web3", map[string]interface{}{"env": "production", "role": "frontend"}},
		{"web2", map[string]interface{}{"env": "production", "role": "frontend"}},
		{"unknown", map[string]interface{}{"env": "production", "role": "generic"}},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, inv.HostVars(tt.host)); diff != "" {
				t.Errorf("HostVars(%s) mismatch (-want +got):\n%s", tt.host, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a mapping", "- web1\n- web2\n"},
		{"bad group body", "web: [web1]\n"},
		{"unknown group key", "web:\n  hostz: [web1]\n"},
		{"scalar vars", "vars: nope\n"},
		{"invalid yaml", "web: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadDirectoryAndPathList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "inventory/10-web.yml", "web:\n  hosts: [web1]\n  vars:\n    role: frontend\n")
	writeFile(t, dir, "inventory/20-web.yaml", "web:\n  hosts: [web2]\n  vars:\n    tier: 1\n")
	writeFile(t, dir, "inventory/README.md", "not yaml")
	extra := writeFile(t, dir, "extra.yml", "vars:\n  env: staging\ndb:\n  hosts: [db1]\n")

	inv, err := Load(filepath.Join(dir, "inventory") + ":" + extra)
	require.NoError(t, err)

	web, err := inv.ResolveGroup("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "web2"}, web.Hosts)
	assert.Equal(t, map[string]interface{}{"role": "frontend", "tier": 1}, web.Vars)
	assert.Equal(t, "staging", inv.HostVars("db1")["env"])
	assert.Len(t, inv.Sources(), 3)
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	inv, err := Load("")
	require.NoError(t, err)
	assert.True(t, inv.Empty())
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "custom", Discover("custom", dir))
	assert.Equal(t, "", Discover("", dir))

	path := writeFile(t, dir, "inventory.yml", "web:\n  hosts: [web1]\n")
	assert.Equal(t, path, Discover("", dir))
}

func TestList(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, inv.List(&buf))
	out := buf.String()
	assert.Contains(t, out, "\tweb\n\t  - web3\n\t  - web1\n")
	assert.Contains(t, out, "\t    backup: true\n")

	buf.Reset()
	require.NoError(t, New().List(&buf))
	assert.Contains(t, buf.String(), "No inventory groups defined")
}
