package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/AlexanderGrooff/spindle/pkg/common"
)

// Hook runs around every task invocation with the invocation's Context.
// Returning an error fails the task on that host.
type Hook func(ctx context.Context, c *Context) error

// Hooks holds pre- and post-task hooks, run in registration order.
type Hooks struct {
	mu   sync.RWMutex
	pre  []Hook
	post []Hook
}

func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) AddPre(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pre = append(h.pre, hook)
}

func (h *Hooks) AddPost(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.post = append(h.post, hook)
}

func (h *Hooks) runPre(ctx context.Context, c *Context) error {
	return h.run(ctx, c, "pre", func() []Hook { return h.pre })
}

func (h *Hooks) runPost(ctx context.Context, c *Context) error {
	return h.run(ctx, c, "post", func() []Hook { return h.post })
}

func (h *Hooks) run(ctx context.Context, c *Context, phase string, list func() []Hook) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	hooks := append([]Hook(nil), list()...)
	h.mu.RUnlock()

	for i, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, c); err != nil {
			return fmt.Errorf("%s-task hook %d: %w", phase, i, err)
		}
	}
	return nil
}

// AnnounceHooks returns hooks that log the start and end of every invocation.
func AnnounceHooks() (pre Hook, post Hook) {
	pre = func(ctx context.Context, c *Context) error {
		common.LogInfo("Running task", map[string]interface{}{
			"task": c.TaskName,
			"host": c.HostString,
			"user": c.Username,
		})
		return nil
	}
	post = func(ctx context.Context, c *Context) error {
		common.LogDebug("Task finished", map[string]interface{}{
			"task": c.TaskName,
			"host": c.HostString,
		})
		return nil
	}
	return pre, post
}
