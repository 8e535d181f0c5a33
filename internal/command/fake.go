package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is one scripted result for a command line.
type Response struct {
	Stdout string
	Err    error
}

// ScriptedRunner returns predetermined results for known command lines
// and records every call, enabling deterministic tests without executing
// anything.
//
// Responses for a command line are consumed in order; once exhausted, the
// last response repeats. This matches the common polling pattern where a
// health probe fails N times and then succeeds forever (or vice versa).
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedRunner struct {
	mu        sync.Mutex
	responses map[string][]Response
	consumed  map[string]int
	calls     []string
}

// NewScriptedRunner creates an empty scripted runner. Running any
// unscripted command line returns an error naming it.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		responses: make(map[string][]Response),
		consumed:  make(map[string]int),
	}
}

// Script registers responses for the exact command line "name arg1 arg2...".
func (r *ScriptedRunner) Script(commandLine string, responses ...Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[commandLine] = append(r.responses[commandLine], responses...)
}

// Run returns the next scripted response for the command line.
func (r *ScriptedRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, line)

	queue, ok := r.responses[line]
	if !ok || len(queue) == 0 {
		return "", fmt.Errorf("unscripted command: %s", line)
	}
	idx := r.consumed[line]
	if idx >= len(queue) {
		idx = len(queue) - 1 // repeat last response
	} else {
		r.consumed[line]++
	}
	resp := queue[idx]
	return resp.Stdout, resp.Err
}

// Calls returns every command line run so far, in order.
func (r *ScriptedRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the exact command line was run.
func (r *ScriptedRunner) CallCount(commandLine string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == commandLine {
			n++
		}
	}
	return n
}
