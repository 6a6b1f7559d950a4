package taskfile

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/AlexanderGrooff/jinja-go"
	"github.com/AlexanderGrooff/spindle/pkg/common"
	"github.com/AlexanderGrooff/spindle/pkg/runtime"
	"github.com/AlexanderGrooff/spindle/pkg/task"
)

// StepOutput is what a step produced on one host.
type StepOutput struct {
	Name    string
	Stdout  string
	Stderr  string
	Skipped bool
	// Err is set for failed steps marked ignore_errors.
	Err error
}

func stepsFunc(steps []Step) task.Func {
	return func(ctx context.Context, args task.Args) (interface{}, error) {
		c, err := task.FromContext(ctx)
		if err != nil {
			return nil, err
		}
		vars := c.Vars()
		outputs := make([]StepOutput, 0, len(steps))
		for i, step := range steps {
			out, err := runStep(ctx, step, vars)
			if err != nil {
				if !step.IgnoreErrors {
					return outputs, fmt.Errorf("step %d (%s): %w", i+1, step.label(), err)
				}
				common.LogWarn("Ignoring failed step", map[string]interface{}{
					"task":  c.TaskName,
					"host":  c.HostString,
					"step":  step.label(),
					"error": err.Error(),
				})
				out.Err = err
			}
			outputs = append(outputs, out)
		}
		return outputs, nil
	}
}

func runStep(ctx context.Context, step Step, vars map[string]interface{}) (StepOutput, error) {
	out := StepOutput{Name: step.label()}
	if step.When != "" {
		ok, err := evaluateCondition(step.When, vars)
		if err != nil {
			return out, err
		}
		if !ok {
			out.Skipped = true
			return out, nil
		}
	}

	kind, err := step.action()
	if err != nil {
		return out, err
	}

	var res *runtime.CommandResult
	switch kind {
	case "run", "shell", "sudo", "local":
		command, err := templateString(map[string]string{
			"run": step.Run, "shell": step.Shell, "sudo": step.Sudo, "local": step.Local,
		}[kind], vars)
		if err != nil {
			return out, err
		}
		switch kind {
		case "run":
			res, err = task.Exec(ctx, command)
		case "shell":
			res, err = task.Shell(ctx, command)
		case "sudo":
			user, terr := templateString(step.User, vars)
			if terr != nil {
				return out, terr
			}
			res, err = task.Sudo(ctx, command, user)
		case "local":
			res, err = task.Local(ctx, command)
		}
		if res != nil {
			out.Stdout, out.Stderr = res.Stdout, res.Stderr
		}
		return out, err
	case "put":
		src, dest, mode, err := templateTransfer(step.Put, vars)
		if err != nil {
			return out, err
		}
		return out, task.Upload(ctx, src, dest, mode)
	case "get":
		src, dest, _, err := templateTransfer(step.Get, vars)
		if err != nil {
			return out, err
		}
		return out, task.Download(ctx, src, dest)
	}
	return out, fmt.Errorf("unsupported step %s", kind)
}

func templateString(s string, vars map[string]interface{}) (string, error) {
	if s == "" {
		return "", nil
	}
	res, err := jinja.TemplateString(s, vars)
	if err != nil {
		return "", fmt.Errorf("failed to template %q: %w", s, err)
	}
	if res != s {
		common.DebugOutput("Templated %q into %q", s, res)
	}
	return res, nil
}

func templateTransfer(tr *Transfer, vars map[string]interface{}) (string, string, os.FileMode, error) {
	src, err := templateString(tr.Src, vars)
	if err != nil {
		return "", "", 0, err
	}
	dest, err := templateString(tr.Dest, vars)
	if err != nil {
		return "", "", 0, err
	}
	mode, err := parseMode(tr.Mode)
	return src, dest, mode, err
}

func evaluateCondition(expr string, vars map[string]interface{}) (bool, error) {
	res, err := jinja.EvaluateExpression(expr, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate when %q: %w", expr, err)
	}
	switch v := res.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return v != "", nil
		}
		return b, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return true, nil
	}
}

func parseMode(mode string) (os.FileMode, error) {
	if mode == "" {
		return 0, nil
	}
	m, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", mode, err)
	}
	return os.FileMode(m), nil
}
