// ABOUTME: Core task types: kinds, the status machine, and display rules.
// ABOUTME: Status mutations happen only through the Manager's transition API.

package task

import (
	"fmt"
	"time"
)

// ID uniquely identifies a task within one Manager.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("#%d", id)
}

// Kind determines a task's behavior and display. Immutable after creation.
type Kind uint8

const (
	KindCommand Kind = iota
	KindSubAgent
	KindCron
	KindMcpCall
	KindLongRunningTool
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindSubAgent:
		return "sub-agent"
	case KindCron:
		return "cron"
	case KindMcpCall:
		return "mcp"
	case KindLongRunningTool:
		return "tool"
	default:
		return "unknown"
	}
}

// Status is the task lifecycle state machine. Transitions are monotonic
// except the Running/Background toggle; Completed, Failed, and Cancelled
// are terminal.
type Status uint8

const (
	StatusPending Status = iota
	StatusRunning
	StatusBackground
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusBackground:
		return "background"
	case StatusPaused:
		return "paused"
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

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the task still represents live work.
func (s Status) Active() bool {
	return !s.Terminal()
}

// maxDisplayLen bounds the displayed command text. Truncation is cosmetic
// only; execution always uses the full command.
const maxDisplayLen = 100

// Task is one background-capable unit of work. Fields other than Status,
// Message, and the timestamps are immutable after creation.
type Task struct {
	ID         ID
	Kind       Kind
	Status     Status
	SessionKey string
	Label      string

	// Command is the full command line for KindCommand tasks.
	Command string
	// Display is the truncated command text shown in task lists.
	Display string

	// Message carries status detail, e.g. the pid of a background command.
	Message string
	// Summary is set when the task completes.
	Summary string
	// Error and Retryable are set when the task fails.
	Error     string
	Retryable bool

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// DisplayLabel returns the user label, falling back to the display text or
// the kind name.
func (t *Task) DisplayLabel() string {
	if t.Label != "" {
		return t.Label
	}
	if t.Display != "" {
		return t.Display
	}
	return t.Kind.String()
}

// Elapsed returns how long the task has run, or zero if it never started.
func (t *Task) Elapsed() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	end := t.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.StartedAt)
}

// truncateDisplay bounds s to maxDisplayLen runes with an ellipsis.
func truncateDisplay(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDisplayLen {
		return s
	}
	return string(runes[:maxDisplayLen-3]) + "..."
}
