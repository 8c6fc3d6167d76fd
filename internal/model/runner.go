// ABOUTME: Runner contract for model/tool execution units.
// ABOUTME: A Runner turns one request into a FIFO stream of events.

package model

import (
	"context"
	"errors"
)

// ErrBusy is returned when a runner already has a unit in flight.
var ErrBusy = errors.New("runner is busy")

// Request is one unit of work handed to a Runner: a chat prompt or a
// shell command, tied to the thread it streams into.
type Request struct {
	ThreadID uint64
	Prompt   string
	Command  string
	Media    []string
}

// EventType indicates what a streamed Event carries.
type EventType int

const (
	EventThinkingStart EventType = iota
	EventThinkingDelta
	EventThinkingEnd
	EventChunk
	EventToolCall
	EventToolResult
	EventDone
	EventError
)

// Event is one element of a Runner's output stream. Exactly one Done or
// Error event terminates the stream, and it is always the final element.
type Event struct {
	Type       EventType
	Text       string
	ToolCall   *ToolCallEvent
	ToolResult *ToolResultEvent
	Response   string
	Err        string
	Retryable  bool
}

// ToolCallEvent is an agent-requested tool invocation.
type ToolCallEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResultEvent is the outcome of a tool invocation.
type ToolResultEvent struct {
	ID      string
	Output  string
	IsError bool
}

// Runner executes one request at a time. Run returns a channel the
// caller drains; the channel is closed after the terminal event.
// Cancelling ctx aborts the run, which still terminates the stream with
// an Error event before closing.
type Runner interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
}
