// ABOUTME: Persistence loop: mirrors thread state and task transitions to the store.
// ABOUTME: Subscribes to both managers; writes never block the managers.

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/2389/claw-gateway/internal/store"
	"github.com/2389/claw-gateway/internal/task"
	"github.com/2389/claw-gateway/internal/thread"
)

// persistSubID names this subscriber on both managers.
const persistSubID = "store-persist"

// persistLoop mirrors manager events into the store: thread snapshots
// are upserted (removed threads deleted), task transitions appended to
// the audit log. Write failures are logged and skipped; persistence is
// best effort and never stalls the managers.
func (g *Gateway) persistLoop(ctx context.Context) {
	defer close(g.persistDone)

	threadEvents := g.threads.Subscribe(persistSubID)
	taskEvents := g.tasks.Subscribe(persistSubID)
	defer g.threads.Unsubscribe(persistSubID)
	defer g.tasks.Unsubscribe(persistSubID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-threadEvents:
			g.persistThreadEvent(ctx, ev)
		case ev := <-taskEvents:
			g.persistTaskEvent(ctx, ev)
		}
	}
}

func (g *Gateway) persistThreadEvent(ctx context.Context, ev thread.Event) {
	if ev.Type == thread.EventRemoved {
		err := g.store.DeleteThreadSnapshot(ctx, uint64(ev.ThreadID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("thread snapshot delete failed", "thread_id", ev.ThreadID, "error", err)
		}
		return
	}

	snap := &store.ThreadSnapshot{
		ThreadID:  uint64(ev.Thread.ID),
		Kind:      ev.Thread.Kind.String(),
		Label:     ev.Thread.Label,
		Status:    ev.Thread.Status.String(),
		ParentID:  uint64(ev.Thread.ParentID),
		UpdatedAt: time.Now().UTC(),
	}
	if err := g.store.UpsertThreadSnapshot(ctx, snap); err != nil {
		g.logger.Warn("thread snapshot write failed", "thread_id", ev.ThreadID, "error", err)
	}
}

func (g *Gateway) persistTaskEvent(ctx context.Context, ev task.Event) {
	audit := &store.TaskAudit{
		TaskID:    uint64(ev.Task.ID),
		Event:     ev.Type.String(),
		Before:    ev.Before.String(),
		After:     ev.After.String(),
		Detail:    taskDetail(ev),
		Timestamp: time.Now().UTC(),
	}
	if err := g.store.AppendTaskAudit(ctx, audit); err != nil {
		g.logger.Warn("task audit write failed", "task_id", ev.Task.ID, "error", err)
	}
}

func taskDetail(ev task.Event) string {
	switch ev.Type {
	case task.EventCompleted:
		return ev.Task.Summary
	case task.EventFailed:
		return ev.Task.Error
	default:
		return ev.Task.Message
	}
}
