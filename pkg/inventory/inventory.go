// Package inventory loads host groups and their variables from YAML files.
//
// An inventory file looks like:
//
//	vars:
//	  env: production
//	web:
//	  hosts:
//	    web1:
//	    deploy@web2:2222:
//	      weight: 2
//	  vars:
//	    role: frontend
//	db:
//	  hosts: [db1, db2]
//
// The top-level "vars" key holds global variables; every other top-level key
// is a group. Hosts keep the order in which they appear.
package inventory

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/session"
	"gopkg.in/yaml.v3"
)

// Host is a single inventory entry. Name is the host string used to connect.
type Host struct {
	Name   string
	Vars   map[string]interface{}
	Groups []string
}

// Group is a named, ordered set of host strings plus group-level vars.
type Group struct {
	Name  string
	Hosts []string
	Vars  map[string]interface{}
}

type Inventory struct {
	Vars map[string]interface{}

	groups     map[string]*Group
	groupOrder []string
	hosts      map[string]*Host
	hostOrder  []string
	sources    []string
}

func New() *Inventory {
	return &Inventory{
		Vars:   make(map[string]interface{}),
		groups: make(map[string]*Group),
		hosts:  make(map[string]*Host),
	}
}

// Parse reads one inventory document.
func Parse(data []byte) (*Inventory, error) {
	inv := New()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if len(doc.Content) == 0 {
		return inv, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("inventory must be a mapping, got %s", nodeKind(root))
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		if key == "vars" {
			vars, err := decodeVars(val)
			if err != nil {
				return nil, fmt.Errorf("global vars: %w", err)
			}
			inv.Vars = common.MergeVars(vars, inv.Vars)
			continue
		}
		if err := inv.parseGroup(key, val); err != nil {
			return nil, fmt.Errorf("group %s: %w", key, err)
		}
	}
	return inv, nil
}

func (i *Inventory) parseGroup(name string, node *yaml.Node) error {
	g := i.group(name)
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping with hosts and vars, got %s", nodeKind(node))
	}

	for j := 0; j+1 < len(node.Content); j += 2 {
		key, val := node.Content[j].Value, node.Content[j+1]
		switch key {
		case "vars":
			vars, err := decodeVars(val)
			if err != nil {
				return fmt.Errorf("vars: %w", err)
			}
			g.Vars = common.MergeVars(vars, g.Vars)
		case "hosts":
			if err := i.parseHosts(g, val); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown key %q", key)
		}
	}
	return nil
}

func (i *Inventory) parseHosts(g *Group, node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				return fmt.Errorf("hosts list entries must be host strings")
			}
			i.addHost(g, item.Value, nil)
		}
	case yaml.MappingNode:
		for j := 0; j+1 < len(node.Content); j += 2 {
			name := node.Content[j].Value
			if name == "" {
				return fmt.Errorf("empty host name")
			}
			vars, err := decodeVars(node.Content[j+1])
			if err != nil {
				return fmt.Errorf("host %s: %w", name, err)
			}
			i.addHost(g, name, vars)
		}
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("hosts must be a list or mapping")
		}
	default:
		return fmt.Errorf("hosts must be a list or mapping, got %s", nodeKind(node))
	}
	return nil
}

func (i *Inventory) group(name string) *Group {
	if g, ok := i.groups[name]; ok {
		return g
	}
	g := &Group{Name: name, Vars: make(map[string]interface{})}
	i.groups[name] = g
	i.groupOrder = append(i.groupOrder, name)
	return g
}

func (i *Inventory) addHost(g *Group, name string, vars map[string]interface{}) {
	h, ok := i.hosts[name]
	if !ok {
		h = &Host{Name: name, Vars: make(map[string]interface{})}
		i.hosts[name] = h
		i.hostOrder = append(i.hostOrder, name)
	}
	h.Vars = common.MergeVars(vars, h.Vars)
	if !containsString(h.Groups, g.Name) {
		h.Groups = append(h.Groups, g.Name)
	}
	if !containsString(g.Hosts, name) {
		g.Hosts = append(g.Hosts, name)
	}
}

// Merge folds other into i. Later definitions win for conflicting vars.
func (i *Inventory) Merge(other *Inventory) {
	i.Vars = common.MergeVars(other.Vars, i.Vars)
	for _, name := range other.groupOrder {
		src := other.groups[name]
		dst := i.group(name)
		dst.Vars = common.MergeVars(src.Vars, dst.Vars)
		for _, hostName := range src.Hosts {
			i.addHost(dst, hostName, other.hosts[hostName].Vars)
		}
	}
	i.sources = append(i.sources, other.sources...)
}

// Empty reports whether no groups were loaded.
func (i *Inventory) Empty() bool {
	return i == nil || len(i.groups) == 0
}

// ResolveGroup returns the group's hosts, in declaration order, and its vars.
func (i *Inventory) ResolveGroup(name string) (Group, error) {
	if i.Empty() {
		return Group{}, common.NewConfigurationError("no inventory loaded; specify one with --inventory when using a group")
	}
	g, ok := i.groups[name]
	if !ok {
		return Group{}, common.NewConfigurationError("group %q not found in inventory", name)
	}
	return Group{
		Name:  g.Name,
		Hosts: append([]string(nil), g.Hosts...),
		Vars:  common.CopyMap(g.Vars),
	}, nil
}

// HostVars layers global, group and host vars for host. Groups apply in
// declaration order. Unknown hosts get the global vars only.
func (i *Inventory) HostVars(host string) map[string]interface{} {
	if i == nil {
		return nil
	}
	facts := common.CopyMap(i.Vars)
	if facts == nil {
		facts = make(map[string]interface{})
	}
	h := i.lookupHost(host)
	if h == nil {
		return facts
	}
	for _, groupName := range h.Groups {
		for k, v := range i.groups[groupName].Vars {
			facts[k] = v
		}
	}
	for k, v := range h.Vars {
		facts[k] = v
	}
	return facts
}

// lookupHost matches the exact host string first, then the bare hostname.
func (i *Inventory) lookupHost(host string) *Host {
	if h, ok := i.hosts[host]; ok {
		return h
	}
	want, err := session.ParseHostString(host)
	if err != nil {
		return nil
	}
	for _, name := range i.hostOrder {
		spec, err := session.ParseHostString(name)
		if err == nil && spec.Hostname == want.Hostname {
			return i.hosts[name]
		}
	}
	return nil
}

// Groups returns all groups in declaration order.
func (i *Inventory) Groups() []Group {
	groups := make([]Group, 0, len(i.groupOrder))
	for _, name := range i.groupOrder {
		g, _ := i.ResolveGroup(name)
		groups = append(groups, g)
	}
	return groups
}

// Hosts returns every known host in first-seen order.
func (i *Inventory) Hosts() []Host {
	hosts := make([]Host, 0, len(i.hostOrder))
	for _, name := range i.hostOrder {
		h := i.hosts[name]
		hosts = append(hosts, Host{
			Name:   h.Name,
			Vars:   common.CopyMap(h.Vars),
			Groups: append([]string(nil), h.Groups...),
		})
	}
	return hosts
}

// Sources lists the files the inventory was loaded from.
func (i *Inventory) Sources() []string {
	return append([]string(nil), i.sources...)
}

// List writes a human-readable overview of groups, their hosts and vars.
func (i *Inventory) List(w io.Writer) error {
	if i.Empty() {
		_, err := fmt.Fprintln(w, "\n  No inventory groups defined.")
		return err
	}
	var b strings.Builder
	b.WriteString("\n  Available groups:\n\n")
	for _, g := range i.Groups() {
		fmt.Fprintf(&b, "\t%s\n", g.Name)
		for _, host := range g.Hosts {
			fmt.Fprintf(&b, "\t  - %s\n", host)
		}
		keys := make([]string, 0, len(g.Vars))
		for k := range g.Vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\t    %s: %v\n", k, g.Vars[k])
		}
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func decodeVars(node *yaml.Node) (map[string]interface{}, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return map[string]interface{}{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("vars must be a mapping, got %s", nodeKind(node))
	}
	vars := make(map[string]interface{})
	if err := node.Decode(&vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar " + n.Tag
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
