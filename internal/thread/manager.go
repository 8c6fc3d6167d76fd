// ABOUTME: Owns the thread forest and the single foreground thread.
// ABOUTME: MessageAdded events are exempt from sidebar refresh; all others are not.

package thread

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrNotFound = errors.New("thread not found")
	ErrCycle    = errors.New("parent would create a cycle")
	ErrTerminal = errors.New("thread is in a terminal state")
)

// EventType labels what happened to a thread.
type EventType uint8

const (
	EventCreated EventType = iota
	EventStatusChanged
	EventDescriptionChanged
	EventRenamed
	EventForegrounded
	EventMessageAdded
	EventCompleted
	EventFailed
	EventRemoved
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventStatusChanged:
		return "status_changed"
	case EventDescriptionChanged:
		return "description_changed"
	case EventRenamed:
		return "renamed"
	case EventForegrounded:
		return "foregrounded"
	case EventMessageAdded:
		return "message_added"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is an immutable record of one thread transition.
type Event struct {
	Type     EventType
	ThreadID ID
	Thread   Thread
	Before   Status
	After    Status

	// Previous is the demoted thread on EventForegrounded, zero if none.
	Previous ID
	// MessageCount is set on EventMessageAdded.
	MessageCount int
}

// SidebarRefresh reports whether this event should trigger a sidebar
// refresh push to the client. MessageAdded alone is exempt; it fires on
// every streamed message and would flood the client.
func (e Event) SidebarRefresh() bool {
	return e.Type != EventMessageAdded
}

const subscriberBufferSize = 64

// Manager owns all threads. Exactly one thread is foreground at a time;
// Foreground is the only operation that changes which.
type Manager struct {
	mu           sync.RWMutex
	threads      map[ID]*Thread
	nextID       ID
	foregroundID ID
	subscribers  map[string]chan Event
	logger       *slog.Logger
}

// NewManager creates an empty thread manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		threads:     make(map[ID]*Thread),
		nextID:      1,
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "threads"),
	}
}

// Subscribe registers an event channel under the given subscriber ID.
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

func (m *Manager) publishLocked(ev Event) {
	for subID, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropped thread event for slow subscriber",
				"sub_id", subID,
				"thread_id", ev.ThreadID,
				"event", ev.Type)
		}
	}
}

// Create registers a new thread. A nonzero parent must exist. Chat
// threads are foregrounded on creation, demoting the previous foreground.
func (m *Manager) Create(kind Kind, label string, parent ID) (Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parent != 0 {
		if _, ok := m.threads[parent]; !ok {
			return Thread{}, fmt.Errorf("parent %w: %s", ErrNotFound, parent)
		}
	}

	now := time.Now()
	t := &Thread{
		ID:             m.nextID,
		Kind:           kind,
		Label:          label,
		Status:         StatusActive,
		SidebarVisible: true,
		ParentID:       parent,
		CreatedAt:      now,
		LastActivity:   now,
	}
	m.nextID++
	m.threads[t.ID] = t

	m.logger.Debug("thread created", "thread_id", t.ID, "kind", kind, "label", label)
	m.publishLocked(Event{Type: EventCreated, ThreadID: t.ID, Thread: *t, Before: StatusActive, After: StatusActive})

	if kind == KindChat {
		m.foregroundLocked(t.ID)
	}
	return *t, nil
}

// SetParent reparents a thread, rejecting any parent that is the thread
// itself or one of its descendants.
func (m *Manager) SetParent(id, parent ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if parent != 0 {
		if _, ok := m.threads[parent]; !ok {
			return fmt.Errorf("parent %w: %s", ErrNotFound, parent)
		}
		if m.wouldCycleLocked(id, parent) {
			return fmt.Errorf("%w: %s under %s", ErrCycle, id, parent)
		}
	}
	t.ParentID = parent
	return nil
}

// wouldCycleLocked reports whether making parent the parent of id would
// close a loop, i.e. parent is id or a descendant of id.
func (m *Manager) wouldCycleLocked(id, parent ID) bool {
	for cur := parent; cur != 0; {
		if cur == id {
			return true
		}
		t, ok := m.threads[cur]
		if !ok {
			return false
		}
		cur = t.ParentID
	}
	return false
}

// Foreground makes id the foreground thread and returns the previous
// foreground ID (zero if none). This is the only way foreground changes.
func (m *Manager) Foreground(id ID) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.foregroundLocked(id), nil
}

func (m *Manager) foregroundLocked(id ID) ID {
	previous := m.foregroundID
	m.foregroundID = id
	t := m.threads[id]
	t.LastActivity = time.Now()

	m.logger.Debug("thread foregrounded", "thread_id", id, "previous", previous)
	m.publishLocked(Event{
		Type:     EventForegrounded,
		ThreadID: id,
		Thread:   *t,
		Before:   t.Status,
		After:    t.Status,
		Previous: previous,
	})
	return previous
}

// ForegroundID returns the current foreground thread ID, zero if none.
func (m *Manager) ForegroundID() ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.foregroundID
}

// SetStatus applies a non-terminal status change.
func (m *Manager) SetStatus(id ID, status Status) error {
	return m.update(id, EventStatusChanged, func(t *Thread) {
		t.Status = status
	})
}

// SetDescription updates the agent-settable description.
func (m *Manager) SetDescription(id ID, description string) error {
	return m.update(id, EventDescriptionChanged, func(t *Thread) {
		t.Description = description
	})
}

// Rename updates the user-facing label.
func (m *Manager) Rename(id ID, label string) error {
	return m.update(id, EventRenamed, func(t *Thread) {
		t.Label = label
	})
}

// AddMessage records one message on the thread. The resulting event does
// not trigger a sidebar refresh.
func (m *Manager) AddMessage(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.MessageCount++
	t.LastActivity = time.Now()
	m.publishLocked(Event{
		Type:         EventMessageAdded,
		ThreadID:     id,
		Thread:       *t,
		Before:       t.Status,
		After:        t.Status,
		MessageCount: t.MessageCount,
	})
	return nil
}

// Complete moves a thread to Completed and records the summary.
func (m *Manager) Complete(id ID, summary string) error {
	return m.update(id, EventCompleted, func(t *Thread) {
		t.Status = StatusCompleted
		t.Summary = summary
	})
}

// Fail moves a thread to Failed.
func (m *Manager) Fail(id ID, threadErr string) error {
	return m.update(id, EventFailed, func(t *Thread) {
		t.Status = StatusFailed
		t.Error = threadErr
	})
}

// Cancel moves a thread to Cancelled.
func (m *Manager) Cancel(id ID) error {
	return m.update(id, EventStatusChanged, func(t *Thread) {
		t.Status = StatusCancelled
	})
}

// update applies fn under the write lock and emits one event. Terminal
// threads reject further changes.
func (m *Manager) update(id ID, evType EventType, fn func(*Thread)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status)
	}

	before := t.Status
	fn(t)
	t.LastActivity = time.Now()
	m.publishLocked(Event{Type: evType, ThreadID: id, Thread: *t, Before: before, After: t.Status})
	return nil
}

// Remove deletes a thread. Children are reparented to the removed
// thread's own parent so no subtree is silently orphaned. Removing the
// foreground thread leaves no thread foregrounded.
func (m *Manager) Remove(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id ID) error {
	t, ok := m.threads[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for _, child := range m.threads {
		if child.ParentID == id {
			child.ParentID = t.ParentID
		}
	}
	delete(m.threads, id)
	if m.foregroundID == id {
		m.foregroundID = 0
	}

	m.logger.Debug("thread removed", "thread_id", id)
	m.publishLocked(Event{Type: EventRemoved, ThreadID: id, Thread: *t, Before: t.Status, After: t.Status})
	return nil
}

// Get returns a snapshot of one thread.
func (m *Manager) Get(id ID) (Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return Thread{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *t, nil
}

// All returns snapshots of every thread.
func (m *Manager) All() []Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, *t)
	}
	return out
}

// Children returns snapshots of the direct children of id.
func (m *Manager) Children(id ID) []Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Thread
	for _, t := range m.threads {
		if t.ParentID == id {
			out = append(out, *t)
		}
	}
	return out
}

// CleanupEphemeral removes finished ephemeral threads idle longer than
// retention and returns how many were removed.
func (m *Manager) CleanupEphemeral(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	var stale []ID
	for id, t := range m.threads {
		if t.Kind.Ephemeral() && t.Status.Terminal() && t.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		_ = m.removeLocked(id)
	}
	if len(stale) > 0 {
		m.logger.Debug("cleaned up ephemeral threads", "count", len(stale))
	}
	return len(stale)
}
