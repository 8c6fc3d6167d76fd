// ABOUTME: Fan-in bridge between spawned execution units and the connection loop.
// ABOUTME: Mailbox merges unit output; Registry enforces one live unit per thread.

package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/claw-gateway/internal/protocol"
	"github.com/2389/claw-gateway/internal/thread"
)

// MessageType labels what a unit is sending back.
type MessageType uint8

const (
	// MessageFrame relays a server frame verbatim to the client.
	MessageFrame MessageType = iota
	// MessageDone signals the unit finished, with an optional final response.
	MessageDone
	// MessageError signals the unit failed.
	MessageError
)

// Message is one item from an execution unit to the connection loop.
type Message struct {
	Type     MessageType
	ThreadID thread.ID
	Frame    protocol.ServerFrame
	Response string
	Error    string
}

// DefaultCapacity is the mailbox buffer size.
const DefaultCapacity = 256

// Mailbox is the single bounded channel all of a connection's execution
// units send into. When full, the oldest relay frame is dropped to make
// room; Done and Error messages are never dropped. A unit's Done or Error
// is always its final send, so per-unit FIFO order survives eviction.
type Mailbox struct {
	mu      sync.Mutex
	ch      chan Message
	dropped uint64
	logger  *slog.Logger
}

// NewMailbox creates a mailbox. Capacity <= 0 uses DefaultCapacity.
func NewMailbox(capacity int, logger *slog.Logger) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		ch:     make(chan Message, capacity),
		logger: logger.With("component", "mailbox"),
	}
}

// C returns the receive side for the connection loop's select.
func (mb *Mailbox) C() <-chan Message {
	return mb.ch
}

// Send enqueues a message. If the mailbox is full, the oldest relay frame
// is evicted; Done/Error messages encountered while searching are kept in
// order. Send only blocks if the mailbox is full of undroppable messages.
func (mb *Mailbox) Send(msg Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	select {
	case mb.ch <- msg:
		return
	default:
	}

	// Full: pull from the front until a droppable frame (or free space)
	// turns up, preserving any Done/Error pulled on the way.
	var keep []Message
	for {
		select {
		case old := <-mb.ch:
			if old.Type == MessageFrame {
				mb.dropped++
				mb.logger.Debug("mailbox full, dropped oldest relay frame",
					"thread_id", old.ThreadID,
					"total_dropped", mb.dropped)
			} else {
				keep = append(keep, old)
				continue
			}
		default:
			// Receiver drained the channel while we searched.
		}
		break
	}
	for _, k := range keep {
		mb.ch <- k
	}
	mb.ch <- msg
}

// Dropped returns how many relay frames have been evicted.
func (mb *Mailbox) Dropped() uint64 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.dropped
}

// Sink is a unit's handle for sending into the mailbox, bound to the
// thread the unit runs under.
type Sink struct {
	mb       *Mailbox
	threadID thread.ID
}

// NewSink binds a sink to a thread ID.
func NewSink(mb *Mailbox, threadID thread.ID) *Sink {
	return &Sink{mb: mb, threadID: threadID}
}

// Frame relays a server frame to the client.
func (s *Sink) Frame(f protocol.ServerFrame) {
	s.mb.Send(Message{Type: MessageFrame, ThreadID: s.threadID, Frame: f})
}

// Done signals successful completion. This must be the sink's final send.
func (s *Sink) Done(response string) {
	s.mb.Send(Message{Type: MessageDone, ThreadID: s.threadID, Response: response})
}

// Error signals failure. This must be the sink's final send.
func (s *Sink) Error(message string) {
	s.mb.Send(Message{Type: MessageError, ThreadID: s.threadID, Error: message})
}

// unit is one registered execution unit.
type unit struct {
	cancel     context.CancelFunc
	generation uint64
}

// Registry tracks the live execution unit per thread. At most one unit is
// live per thread ID; registering a replacement aborts the old unit in the
// same critical section.
type Registry struct {
	mu         sync.Mutex
	units      map[thread.ID]unit
	generation uint64
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		units:  make(map[thread.ID]unit),
		logger: logger.With("component", "registry"),
	}
}

// Register records cancel as the live unit for threadID, aborting any
// previous unit atomically. The returned generation must be passed to
// Remove so a finished unit cannot evict its successor.
func (r *Registry) Register(threadID thread.ID, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.units[threadID]; ok {
		old.cancel()
		r.logger.Debug("aborted previous unit on registration", "thread_id", threadID)
	}
	r.generation++
	r.units[threadID] = unit{cancel: cancel, generation: r.generation}
	return r.generation
}

// Remove deletes the registry entry if it still belongs to generation.
// A unit calls this when it finishes; a stale generation is a no-op so a
// replacement registered in the meantime is left untouched.
func (r *Registry) Remove(threadID thread.ID, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.units[threadID]; ok && u.generation == generation {
		delete(r.units, threadID)
	}
}

// Cancel aborts and removes the unit for threadID, reporting whether one
// was running.
func (r *Registry) Cancel(threadID thread.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.units[threadID]
	if !ok {
		return false
	}
	u.cancel()
	delete(r.units, threadID)
	r.logger.Debug("unit cancelled", "thread_id", threadID)
	return true
}

// CancelAll aborts every registered unit, e.g. on connection close.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.units {
		u.cancel()
		delete(r.units, id)
	}
}

// Running reports whether threadID has a live unit.
func (r *Registry) Running(threadID thread.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.units[threadID]
	return ok
}

// RunningThreads returns the IDs of all threads with live units.
func (r *Registry) RunningThreads() []thread.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]thread.ID, 0, len(r.units))
	for id := range r.units {
		out = append(out, id)
	}
	return out
}
