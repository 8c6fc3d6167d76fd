// ABOUTME: Brokers for tool approvals and user prompts awaiting a client reply.
// ABOUTME: Execution units block on Request; the connection loop calls Resolve.

package gateway

import (
	"context"
	"sync"
)

// approvalBroker tracks outstanding tool approval requests by ID. A unit
// that needs user consent parks on Request until the client answers or
// the unit's context ends.
type approvalBroker struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func newApprovalBroker() *approvalBroker {
	return &approvalBroker{pending: make(map[string]chan bool)}
}

// Request blocks until the approval with the given ID is resolved. A
// cancelled context counts as denial.
func (b *approvalBroker) Request(ctx context.Context, id string) bool {
	ch := make(chan bool, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved
	case <-ctx.Done():
		return false
	}
}

// Resolve answers a pending approval. Returns false when no request with
// that ID is waiting.
func (b *approvalBroker) Resolve(id string, approved bool) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	return true
}

// promptAnswer is the client's reply to a UserPromptRequest.
type promptAnswer struct {
	Value     string
	Dismissed bool
}

// promptBroker is the approvalBroker shape for free-form prompts.
type promptBroker struct {
	mu      sync.Mutex
	pending map[string]chan promptAnswer
}

func newPromptBroker() *promptBroker {
	return &promptBroker{pending: make(map[string]chan promptAnswer)}
}

// Request blocks until the prompt is answered. A cancelled context counts
// as a dismissal.
func (b *promptBroker) Request(ctx context.Context, id string) promptAnswer {
	ch := make(chan promptAnswer, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	select {
	case ans := <-ch:
		return ans
	case <-ctx.Done():
		return promptAnswer{Dismissed: true}
	}
}

// Resolve delivers the client's answer to a pending prompt.
func (b *promptBroker) Resolve(id string, ans promptAnswer) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ans
	return true
}
