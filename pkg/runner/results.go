package runner

import (
	"github.com/AlexanderGrooff/spindle/pkg/task"
)

// HostResult pairs a host string with the outcome of the task on it.
type HostResult struct {
	Host   string
	Result task.Result
}

// Results maps host strings to task outcomes, keeping the order in which
// hosts were first visited. A host listed twice keeps its first position and
// the outcome of its last execution.
type Results struct {
	RunID  string
	order  []string
	byHost map[string]task.Result
}

func newResults(runID string) *Results {
	return &Results{RunID: runID, byHost: make(map[string]task.Result)}
}

func (r *Results) set(host string, res task.Result) {
	if _, seen := r.byHost[host]; !seen {
		r.order = append(r.order, host)
	}
	r.byHost[host] = res
}

func (r *Results) Get(host string) (task.Result, bool) {
	res, ok := r.byHost[host]
	return res, ok
}

// Hosts returns the distinct host strings in visiting order.
func (r *Results) Hosts() []string {
	return append([]string(nil), r.order...)
}

func (r *Results) Len() int {
	return len(r.order)
}

// All returns every host and its outcome in visiting order.
func (r *Results) All() []HostResult {
	all := make([]HostResult, 0, len(r.order))
	for _, host := range r.order {
		all = append(all, HostResult{Host: host, Result: r.byHost[host]})
	}
	return all
}

// Failed returns the hosts whose outcome is a failure, in visiting order.
func (r *Results) Failed() []string {
	var failed []string
	for _, host := range r.order {
		if r.byHost[host].Failed() {
			failed = append(failed, host)
		}
	}
	return failed
}
