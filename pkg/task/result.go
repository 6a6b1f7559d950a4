package task

import (
	"errors"
	"fmt"
)

// Result is the outcome of one task on one host: either a value or an error,
// never both. Build it with Succeeded or Failed.
type Result struct {
	name  string
	value interface{}
	err   error
}

func Succeeded(name string, value interface{}) Result {
	return Result{name: name, value: value}
}

// Failed records err as the outcome. A nil err is replaced so the result
// still counts as failed.
func Failed(name string, err error) Result {
	if err == nil {
		err = errors.New("task failed without an error")
	}
	return Result{name: name, err: err}
}

func (r Result) Name() string { return r.name }

// Value is the task's return value; nil for failed results.
func (r Result) Value() interface{} { return r.value }

func (r Result) Err() error { return r.err }

func (r Result) Failed() bool { return r.err != nil }

func (r Result) String() string {
	status := "ok"
	if r.Failed() {
		status = "failed"
	}
	return fmt.Sprintf("<TaskResult %s, %s>", r.name, status)
}
