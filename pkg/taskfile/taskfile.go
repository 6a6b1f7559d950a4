// Package taskfile turns a Spindlefile, a YAML list of named tasks made of
// shell steps and file transfers, into registered tasks.
package taskfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/AlexanderGrooff/spindle/pkg/task"
	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a Spindlefile.
type File struct {
	// Namespace prefixes every task name. Empty means the root namespace.
	Namespace string                `yaml:"namespace"`
	Tasks     map[string]Definition `yaml:"tasks"`
}

type Definition struct {
	Description string `yaml:"description"`
	// User pins the remote login user for the task.
	User  string `yaml:"user"`
	Steps []Step `yaml:"steps"`
}

// Step is one action. Exactly one of Run, Shell, Sudo, Local, Put or Get is set.
type Step struct {
	Name  string    `yaml:"name"`
	Run   string    `yaml:"run"`
	Shell string    `yaml:"shell"`
	Sudo  string    `yaml:"sudo"`
	Local string    `yaml:"local"`
	Put   *Transfer `yaml:"put"`
	Get   *Transfer `yaml:"get"`
	// User is the sudo target user; root when empty.
	User         string `yaml:"user"`
	When         string `yaml:"when"`
	IgnoreErrors bool   `yaml:"ignore_errors"`
}

type Transfer struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
	// Mode is an octal permission string such as "0644".
	Mode string `yaml:"mode"`
}

func (s Step) action() (string, error) {
	var actions []string
	if s.Run != "" {
		actions = append(actions, "run")
	}
	if s.Shell != "" {
		actions = append(actions, "shell")
	}
	if s.Sudo != "" {
		actions = append(actions, "sudo")
	}
	if s.Local != "" {
		actions = append(actions, "local")
	}
	if s.Put != nil {
		actions = append(actions, "put")
	}
	if s.Get != nil {
		actions = append(actions, "get")
	}
	switch len(actions) {
	case 0:
		return "", fmt.Errorf("no action given")
	case 1:
		return actions[0], nil
	default:
		return "", fmt.Errorf("multiple actions given: %v", actions)
	}
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	kind, _ := s.action()
	return kind
}

// Parse decodes and validates a Spindlefile.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	for _, name := range f.taskNames() {
		def := f.Tasks[name]
		if len(def.Steps) == 0 {
			return nil, fmt.Errorf("task %s has no steps", name)
		}
		for i, step := range def.Steps {
			if _, err := step.action(); err != nil {
				return nil, fmt.Errorf("task %s step %d: %w", name, i+1, err)
			}
			for _, tr := range []*Transfer{step.Put, step.Get} {
				if tr == nil {
					continue
				}
				if tr.Src == "" || tr.Dest == "" {
					return nil, fmt.Errorf("task %s step %d: transfer needs src and dest", name, i+1)
				}
				if _, err := parseMode(tr.Mode); err != nil {
					return nil, fmt.Errorf("task %s step %d: %w", name, i+1, err)
				}
			}
		}
	}
	return &f, nil
}

func (f *File) taskNames() []string {
	names := make([]string, 0, len(f.Tasks))
	for name := range f.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds every task of f to reg.
func (f *File) Register(reg *task.Registry) error {
	for _, name := range f.taskNames() {
		def := f.Tasks[name]
		opts := []task.Option{task.WithDescription(def.Description)}
		if def.User != "" {
			opts = append(opts, task.WithUser(def.User))
		}
		t, err := task.New(f.Namespace, name, stepsFunc(def.Steps), opts...)
		if err != nil {
			return err
		}
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the Spindlefile at path and registers its tasks into reg.
func Load(path string, reg *task.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading task file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Register(reg)
}
