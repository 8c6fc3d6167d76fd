// ABOUTME: Thread types: kinds, status, and the per-thread record.
// ABOUTME: Threads form a forest via ParentID; cycles are rejected by the Manager.

package thread

import (
	"fmt"
	"time"
)

// ID uniquely identifies a thread within one Manager. Zero is never a
// valid thread ID; it marks "no parent" and "no foreground".
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("#%d", id)
}

// Kind determines a thread's lifecycle and display.
type Kind uint8

const (
	// KindChat is a user-interactive thread. Persistent.
	KindChat Kind = iota
	// KindSubAgent is a spawned autonomous agent run. Ephemeral.
	KindSubAgent
	// KindBackground is long-running monitoring work. Persistent.
	KindBackground
	// KindTask is a one-shot unit that returns a result and exits. Ephemeral.
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSubAgent:
		return "sub-agent"
	case KindBackground:
		return "background"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Ephemeral reports whether finished threads of this kind are removed by
// the retention sweep.
func (k Kind) Ephemeral() bool {
	return k == KindSubAgent || k == KindTask
}

// Status is the thread lifecycle state.
type Status uint8

const (
	StatusActive Status = iota
	StatusPaused
	StatusWaitingInput
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusWaitingInput:
		return "waiting_input"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the thread has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Thread is one conversational or work context. Agents may set the
// description; the label is user-facing.
type Thread struct {
	ID             ID
	Kind           Kind
	Label          string
	Description    string
	Status         Status
	SidebarVisible bool
	ParentID       ID

	Summary string
	Error   string

	MessageCount int
	CreatedAt    time.Time
	LastActivity time.Time
}
