// ABOUTME: Owns the canonical task set and all status transitions.
// ABOUTME: Every transition emits exactly one event carrying before/after state.

package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrNotFound      = errors.New("task not found")
	ErrTerminal      = errors.New("task is in a terminal state")
	ErrBadTransition = errors.New("invalid status transition")
)

// EventType labels what happened to a task.
type EventType uint8

const (
	EventCreated EventType = iota
	EventStarted
	EventBackgrounded
	EventForegrounded
	EventStatusChanged
	EventCompleted
	EventFailed
	EventCancelled
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventStarted:
		return "started"
	case EventBackgrounded:
		return "backgrounded"
	case EventForegrounded:
		return "foregrounded"
	case EventStatusChanged:
		return "status_changed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is an immutable record of one task transition. Before and After
// are the statuses around the transition, never just a "changed" marker.
type Event struct {
	Type   EventType
	Task   Task
	Before Status
	After  Status
}

// subscriberBufferSize is the channel buffer for each event subscriber.
const subscriberBufferSize = 64

// Manager owns all tasks and is the only component allowed to change
// their status. Operations on absent IDs return ErrNotFound, never panic.
type Manager struct {
	mu          sync.RWMutex
	tasks       map[ID]*Task
	nextID      ID
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewManager creates an empty task manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tasks:       make(map[ID]*Task),
		nextID:      1,
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "tasks"),
	}
}

// Subscribe registers an event channel under the given subscriber ID.
// Events are dropped for subscribers whose channels are full.
func (m *Manager) Subscribe(subID string) <-chan Event {
	ch := make(chan Event, subscriberBufferSize)
	m.mu.Lock()
	m.subscribers[subID] = ch
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Manager) Unsubscribe(subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[subID]; ok {
		delete(m.subscribers, subID)
		close(ch)
	}
}

// publishLocked fans an event out to all subscribers. Must be called with
// mu held; sends never block.
func (m *Manager) publishLocked(ev Event) {
	for subID, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropped task event for slow subscriber",
				"sub_id", subID,
				"task_id", ev.Task.ID,
				"event", ev.Type)
		}
	}
}

// CreateOptions carries optional fields for Create.
type CreateOptions struct {
	Label   string
	Command string
}

// Create registers a new pending task and emits EventCreated. For command
// tasks the display text is truncated; the stored command is not.
func (m *Manager) Create(kind Kind, sessionKey string, opts CreateOptions) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Task{
		ID:         m.nextID,
		Kind:       kind,
		Status:     StatusPending,
		SessionKey: sessionKey,
		Label:      opts.Label,
		Command:    opts.Command,
		Display:    truncateDisplay(opts.Command),
		CreatedAt:  time.Now(),
	}
	m.nextID++
	m.tasks[t.ID] = t

	m.logger.Debug("task created", "task_id", t.ID, "kind", kind, "session", sessionKey)
	m.publishLocked(Event{Type: EventCreated, Task: *t, Before: StatusPending, After: StatusPending})
	return *t
}

// Start moves a pending task to Running.
func (m *Manager) Start(id ID) error {
	return m.transition(id, EventStarted, func(t *Task) error {
		if t.Status != StatusPending {
			return fmt.Errorf("%w: %s -> running", ErrBadTransition, t.Status)
		}
		t.Status = StatusRunning
		t.StartedAt = time.Now()
		return nil
	})
}

// SetBackground moves a running or paused task to Background.
func (m *Manager) SetBackground(id ID) error {
	return m.transition(id, EventBackgrounded, func(t *Task) error {
		switch t.Status {
		case StatusRunning, StatusPaused:
			t.Status = StatusBackground
			return nil
		case StatusBackground:
			return nil
		default:
			return fmt.Errorf("%w: %s -> background", ErrBadTransition, t.Status)
		}
	})
}

// SetForeground moves a background task back to Running.
func (m *Manager) SetForeground(id ID) error {
	return m.transition(id, EventForegrounded, func(t *Task) error {
		switch t.Status {
		case StatusBackground, StatusPaused:
			t.Status = StatusRunning
			return nil
		case StatusRunning:
			return nil
		default:
			return fmt.Errorf("%w: %s -> running", ErrBadTransition, t.Status)
		}
	})
}

// UpdateStatus applies a non-terminal status with an optional detail
// message, e.g. recording a background command's pid. Terminal statuses
// must go through Complete, Fail, or Cancel.
func (m *Manager) UpdateStatus(id ID, status Status, message string) error {
	if status.Terminal() {
		return fmt.Errorf("%w: terminal status %s requires Complete/Fail/Cancel", ErrBadTransition, status)
	}
	return m.transition(id, EventStatusChanged, func(t *Task) error {
		t.Status = status
		if message != "" {
			t.Message = message
		}
		return nil
	})
}

// Complete moves a task to Completed from any prior live state, including
// Background, and records the summary.
func (m *Manager) Complete(id ID, summary string) error {
	return m.transition(id, EventCompleted, func(t *Task) error {
		t.Status = StatusCompleted
		t.Summary = summary
		t.FinishedAt = time.Now()
		return nil
	})
}

// Fail moves a task to Failed from any prior live state.
func (m *Manager) Fail(id ID, taskErr string, retryable bool) error {
	return m.transition(id, EventFailed, func(t *Task) error {
		t.Status = StatusFailed
		t.Error = taskErr
		t.Retryable = retryable
		t.FinishedAt = time.Now()
		return nil
	})
}

// Cancel moves a task to Cancelled. Returns false without error if the
// task is already terminal.
func (m *Manager) Cancel(id ID) (bool, error) {
	err := m.transition(id, EventCancelled, func(t *Task) error {
		t.Status = StatusCancelled
		t.FinishedAt = time.Now()
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTerminal):
		return false, nil
	default:
		return false, err
	}
}

// transition applies fn to the task under the write lock and emits exactly
// one event on success. Terminal tasks reject all further transitions.
func (m *Manager) transition(id ID, evType EventType, fn func(*Task) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status)
	}

	before := t.Status
	if err := fn(t); err != nil {
		return err
	}

	switch evType {
	case EventCompleted:
		m.logger.Info("task completed", "task_id", id)
	case EventFailed:
		m.logger.Warn("task failed", "task_id", id, "error", t.Error, "retryable", t.Retryable)
	case EventCancelled:
		m.logger.Info("task cancelled", "task_id", id)
	}
	m.publishLocked(Event{Type: evType, Task: *t, Before: before, After: t.Status})
	return nil
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id ID) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *t, nil
}

// All returns snapshots of every task.
func (m *Manager) All() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

// ForSession returns snapshots of tasks owned by one session.
func (m *Manager) ForSession(sessionKey string) []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.SessionKey == sessionKey {
			out = append(out, *t)
		}
	}
	return out
}

// Active returns snapshots of non-terminal tasks.
func (m *Manager) Active() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.Status.Active() {
			out = append(out, *t)
		}
	}
	return out
}

// CleanupOld removes terminal tasks that finished more than maxAge ago and
// returns how many were removed.
func (m *Manager) CleanupOld(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range m.tasks {
		if t.Status.Terminal() && !t.FinishedAt.IsZero() && t.FinishedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cleaned up old tasks", "count", removed)
	}
	return removed
}

// Stats holds per-status task counts.
type Stats struct {
	Total      int
	Pending    int
	Running    int
	Background int
	Paused     int
	Completed  int
	Failed     int
	Cancelled  int
}

// ActiveCount returns the number of non-terminal tasks.
func (s Stats) ActiveCount() int {
	return s.Pending + s.Running + s.Background + s.Paused
}

// Stats returns per-status counts over the full task set.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, t := range m.tasks {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusBackground:
			s.Background++
		case StatusPaused:
			s.Paused++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}
