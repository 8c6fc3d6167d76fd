// ABOUTME: ScriptedRunner replays a fixed event sequence for tests.
// ABOUTME: Supports artificial delays so cancellation paths can be exercised.

package model

import (
	"context"
	"sync"
	"time"
)

// ScriptedRunner replays the same script for every request. A script
// without a terminal event gets a Done appended automatically.
type ScriptedRunner struct {
	mu     sync.Mutex
	script []Event
	delay  time.Duration
	runs   int
}

// NewScriptedRunner builds a runner that emits the given events in order.
func NewScriptedRunner(script ...Event) *ScriptedRunner {
	return &ScriptedRunner{script: script}
}

// SetDelay inserts a pause before each emitted event.
func (r *ScriptedRunner) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Runs reports how many times Run has been called.
func (r *ScriptedRunner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func (r *ScriptedRunner) Run(ctx context.Context, req Request) (<-chan Event, error) {
	r.mu.Lock()
	r.runs++
	script := withTerminal(r.script)
	delay := r.delay
	r.mu.Unlock()

	out := make(chan Event, len(script)+1)
	go func() {
		defer close(out)
		for _, ev := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					out <- Event{Type: EventError, Err: ctx.Err().Error()}
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				out <- Event{Type: EventError, Err: ctx.Err().Error()}
				return
			}
		}
	}()
	return out, nil
}

// withTerminal guarantees the script ends with a terminal event.
func withTerminal(script []Event) []Event {
	if n := len(script); n > 0 {
		last := script[n-1].Type
		if last == EventDone || last == EventError {
			return script
		}
	}
	return append(append([]Event{}, script...), Event{Type: EventDone})
}

var _ Runner = (*ScriptedRunner)(nil)
