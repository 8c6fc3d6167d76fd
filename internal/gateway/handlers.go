// ABOUTME: Client frame handlers: auth, vault unlock, secrets, chat, tasks, threads.
// ABOUTME: Every frame passes the state gate before any side effect runs.

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/2389/claw-gateway/internal/bridge"
	"github.com/2389/claw-gateway/internal/model"
	"github.com/2389/claw-gateway/internal/protocol"
	"github.com/2389/claw-gateway/internal/task"
	"github.com/2389/claw-gateway/internal/thread"
	"github.com/2389/claw-gateway/internal/vault"
)

func (c *connection) handleFrame(ctx context.Context, f protocol.ClientFrame) error {
	if err := c.state.Gate(f.Kind); err != nil {
		c.logger.Warn("frame gated", "kind", f.Kind.String(), "error", err)
		return c.writeError(ctx, err.Error())
	}

	switch p := f.Payload.(type) {
	case *protocol.AuthResponse:
		return c.handleAuthResponse(ctx, p)
	case *protocol.UnlockVault:
		return c.handleUnlockVault(ctx, p)
	case *protocol.SecretsList:
		return c.handleSecretsList(ctx)
	case *protocol.SecretsGet:
		return c.handleSecretsGet(ctx, p)
	case *protocol.SecretsStore:
		return c.handleSecretsStore(ctx, p)
	case *protocol.SecretsDelete:
		return c.handleSecretsDelete(ctx, p)
	case *protocol.SecretsPeek:
		return c.handleSecretsPeek(ctx, p)
	case *protocol.SecretsSetPolicy:
		return c.handleSecretsSetPolicy(ctx, p)
	case *protocol.SecretsSetDisabled:
		return c.handleSecretsSetDisabled(ctx, p)
	case *protocol.SecretsDeleteCredential:
		return c.handleSecretsDeleteCredential(ctx, p)
	case *protocol.SecretsHasTotp:
		return c.handleSecretsHasTotp(ctx)
	case *protocol.SecretsSetupTotp:
		return c.handleSecretsSetupTotp(ctx)
	case *protocol.SecretsVerifyTotp:
		return c.handleSecretsVerifyTotp(ctx, p)
	case *protocol.SecretsRemoveTotp:
		return c.handleSecretsRemoveTotp(ctx)
	case *protocol.Reload:
		return c.handleReload(ctx)
	case *protocol.Cancel:
		return c.handleCancel(ctx, p)
	case *protocol.Chat:
		return c.handleChat(ctx, p)
	case *protocol.ToolApprovalResponse:
		return c.handleToolApprovalResponse(ctx, p)
	case *protocol.UserPromptResponse:
		return c.handleUserPromptResponse(ctx, p)
	case *protocol.TasksRequest:
		return c.handleTasksRequest(ctx, p)
	case *protocol.ThreadCreate:
		return c.handleThreadCreate(ctx, p)
	case *protocol.ThreadSwitch:
		return c.handleThreadSwitch(ctx, p)
	case *protocol.ThreadList:
		return c.handleThreadList(ctx)
	case *protocol.ThreadClose:
		return c.handleThreadClose(ctx, p)
	case *protocol.ThreadRename:
		return c.handleThreadRename(ctx, p)
	default:
		return c.writeError(ctx, "unhandled frame kind")
	}
}

// ── Auth ────────────────────────────────────────────────────────────────────

func retrySecs(d time.Duration) uint64 {
	return uint64((d + time.Second - 1) / time.Second)
}

func (c *connection) handleAuthResponse(ctx context.Context, p *protocol.AuthResponse) error {
	if wait := c.gw.authLimiter.Check(c.remoteIP); wait > 0 {
		return c.writeFrame(ctx, &protocol.AuthLocked{
			Message:        "too many failed attempts",
			RetryAfterSecs: retrySecs(wait),
		})
	}

	ok, err := c.gw.vault.VerifyTotp(ctx, p.Code)
	if err != nil {
		c.logger.Error("totp verification unavailable", "error", err)
		return c.writeFrame(ctx, &protocol.AuthResult{OK: false, Message: "verification failed"})
	}
	if !ok {
		c.state.RecordFailure()
		if lockedOut := c.gw.authLimiter.RecordFailure(c.remoteIP); lockedOut {
			wait := c.gw.authLimiter.Check(c.remoteIP)
			return c.writeFrame(ctx, &protocol.AuthLocked{
				Message:        "too many failed attempts",
				RetryAfterSecs: retrySecs(wait),
			})
		}
		return c.writeFrame(ctx, &protocol.AuthResult{OK: false, Message: "invalid code", Retry: true})
	}

	c.state.Authenticate()
	c.gw.authLimiter.Clear(c.remoteIP)
	tok, err := c.gw.sessions.Issue(c.sessionID)
	if err != nil {
		c.logger.Error("session token issue failed", "error", err)
		return c.writeFrame(ctx, &protocol.AuthResult{OK: true, Message: "authenticated"})
	}
	return c.writeFrame(ctx, &protocol.AuthResult{OK: true, Message: "authenticated", Token: tok})
}

func (c *connection) handleUnlockVault(ctx context.Context, p *protocol.UnlockVault) error {
	if wait := c.gw.vaultLimiter.Check(c.remoteIP); wait > 0 {
		return c.writeFrame(ctx, &protocol.VaultUnlocked{
			OK:      false,
			Message: "too many failed attempts",
		})
	}

	if err := c.gw.vault.Unlock(ctx, p.Password); err != nil {
		if errors.Is(err, vault.ErrBadPassword) {
			c.gw.vaultLimiter.RecordFailure(c.remoteIP)
			return c.writeFrame(ctx, &protocol.VaultUnlocked{OK: false, Message: "wrong password"})
		}
		c.logger.Error("vault unlock failed", "error", err)
		return c.writeFrame(ctx, &protocol.VaultUnlocked{OK: false, Message: "unlock failed"})
	}

	c.gw.vaultLimiter.Clear(c.remoteIP)
	c.state.UnlockVault()
	if err := c.writeFrame(ctx, &protocol.VaultUnlocked{OK: true}); err != nil {
		return err
	}
	return c.writeFrame(ctx, &protocol.Status{
		Status: protocol.StatusCredentialsLoaded,
		Detail: "vault unlocked",
	})
}

// ── Secrets ─────────────────────────────────────────────────────────────────

// accessContext describes the client operator. Frame-driven access is
// always user-initiated, so approval-gated credentials resolve.
func (c *connection) accessContext() vault.AccessContext {
	return vault.AccessContext{UserApproved: true, Authenticated: true}
}

// vaultMessage maps vault errors to client-safe text.
func vaultMessage(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return "credential not found"
	case errors.Is(err, vault.ErrDisabled):
		return "credential is disabled"
	case errors.Is(err, vault.ErrAccessDenied):
		return "access denied by policy"
	case errors.Is(err, vault.ErrLocked):
		return "vault is locked"
	default:
		return "vault operation failed"
	}
}

func (c *connection) handleSecretsList(ctx context.Context) error {
	creds, err := c.gw.vault.List(ctx)
	if err != nil {
		return c.writeFrame(ctx, &protocol.SecretsListResult{OK: false})
	}
	entries := make([]protocol.SecretEntry, 0, len(creds))
	for _, cr := range creds {
		entries = append(entries, protocol.SecretEntry{
			Name:     cr.Name,
			Label:    cr.Name,
			Kind:     "secret",
			Policy:   string(cr.Policy),
			Disabled: cr.Disabled,
		})
	}
	return c.writeFrame(ctx, &protocol.SecretsListResult{OK: true, Entries: entries})
}

func (c *connection) handleSecretsGet(ctx context.Context, p *protocol.SecretsGet) error {
	value, err := c.gw.vault.Get(ctx, p.Name, c.accessContext())
	if err != nil {
		return c.writeFrame(ctx, &protocol.SecretsGetResult{
			OK: false, Name: p.Name, Message: vaultMessage(err),
		})
	}
	return c.writeFrame(ctx, &protocol.SecretsGetResult{OK: true, Name: p.Name, Value: value})
}

func (c *connection) handleSecretsStore(ctx context.Context, p *protocol.SecretsStore) error {
	if p.Name == "" {
		return c.writeFrame(ctx, &protocol.SecretsStoreResult{OK: false, Message: "name is required"})
	}
	policy := vault.ParsePolicy(p.Policy)
	if err := c.gw.vault.Store(ctx, p.Name, p.Value, policy, nil); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsStoreResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsStoreResult{OK: true, Message: "stored"})
}

func (c *connection) handleSecretsDelete(ctx context.Context, p *protocol.SecretsDelete) error {
	if err := c.gw.vault.Delete(ctx, p.Name); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsDeleteResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsDeleteResult{OK: true})
}

func (c *connection) handleSecretsPeek(ctx context.Context, p *protocol.SecretsPeek) error {
	value, err := c.gw.vault.Peek(ctx, p.Name)
	if err != nil {
		return c.writeFrame(ctx, &protocol.SecretsPeekResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsPeekResult{
		OK:     true,
		Fields: []protocol.PeekField{{Name: "value", Value: value}},
	})
}

func (c *connection) handleSecretsSetPolicy(ctx context.Context, p *protocol.SecretsSetPolicy) error {
	policy := vault.ParsePolicy(p.Policy)
	if err := c.gw.vault.SetPolicy(ctx, p.Name, policy, p.Skills); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsSetPolicyResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsSetPolicyResult{OK: true})
}

func (c *connection) handleSecretsSetDisabled(ctx context.Context, p *protocol.SecretsSetDisabled) error {
	if err := c.gw.vault.SetDisabled(ctx, p.Name, p.Disabled); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsSetDisabledResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsSetDisabledResult{OK: true})
}

func (c *connection) handleSecretsDeleteCredential(ctx context.Context, p *protocol.SecretsDeleteCredential) error {
	if err := c.gw.vault.Delete(ctx, p.Name); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsDeleteCredentialResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsDeleteCredentialResult{OK: true})
}

func (c *connection) handleSecretsHasTotp(ctx context.Context) error {
	has, err := c.gw.vault.HasTotp(ctx)
	if err != nil {
		c.logger.Error("totp enrollment check failed", "error", err)
		has = false
	}
	return c.writeFrame(ctx, &protocol.SecretsHasTotpResult{HasTotp: has})
}

func (c *connection) handleSecretsSetupTotp(ctx context.Context) error {
	uri, err := c.gw.vault.SetupTotp(ctx, agentName)
	if err != nil {
		return c.writeFrame(ctx, &protocol.SecretsSetupTotpResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsSetupTotpResult{OK: true, URI: uri})
}

func (c *connection) handleSecretsVerifyTotp(ctx context.Context, p *protocol.SecretsVerifyTotp) error {
	ok, err := c.gw.vault.VerifyTotp(ctx, p.Code)
	if err != nil {
		if errors.Is(err, vault.ErrNoTotp) {
			return c.writeFrame(ctx, &protocol.SecretsVerifyTotpResult{OK: false, Message: "no second factor enrolled"})
		}
		return c.writeFrame(ctx, &protocol.SecretsVerifyTotpResult{OK: false, Message: vaultMessage(err)})
	}
	if !ok {
		return c.writeFrame(ctx, &protocol.SecretsVerifyTotpResult{OK: false, Message: "invalid code"})
	}
	return c.writeFrame(ctx, &protocol.SecretsVerifyTotpResult{OK: true})
}

func (c *connection) handleSecretsRemoveTotp(ctx context.Context) error {
	if err := c.gw.vault.RemoveTotp(ctx); err != nil {
		return c.writeFrame(ctx, &protocol.SecretsRemoveTotpResult{OK: false, Message: vaultMessage(err)})
	}
	return c.writeFrame(ctx, &protocol.SecretsRemoveTotpResult{OK: true})
}

// ── Conversation ────────────────────────────────────────────────────────────

func (c *connection) handleReload(ctx context.Context) error {
	return c.writeFrame(ctx, &protocol.ReloadResult{
		OK:       true,
		Provider: "command",
		Model:    c.gw.config.Runner.Shell,
	})
}

func (c *connection) handleCancel(ctx context.Context, p *protocol.Cancel) error {
	tid := thread.ID(p.ThreadID)
	if tid == 0 {
		tid = c.gw.threads.ForegroundID()
	}
	if tid == 0 || !c.gw.registry.Cancel(tid) {
		return c.writeError(ctx, "nothing running for thread")
	}
	return c.writeFrame(ctx, &protocol.Info{Message: "cancelled " + tid.String()})
}

func (c *connection) handleChat(ctx context.Context, p *protocol.Chat) error {
	if p.Text == "" {
		return c.writeError(ctx, "empty chat message")
	}

	tid := c.gw.threads.ForegroundID()
	if tid == 0 {
		th, err := c.gw.threads.Create(thread.KindChat, "main", 0)
		if err != nil {
			return c.writeError(ctx, "creating thread: "+err.Error())
		}
		tid = th.ID
	}
	if c.gw.registry.Running(tid) {
		return c.writeError(ctx, "thread is busy")
	}
	if err := c.gw.threads.AddMessage(tid); err != nil {
		return c.writeError(ctx, err.Error())
	}

	media := make([]string, 0, len(p.Media))
	for _, m := range p.Media {
		media = append(media, m.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	gen := c.gw.registry.Register(tid, cancel)
	t := c.gw.tasks.Create(task.KindCommand, c.sessionID, task.CreateOptions{
		Label:   "chat",
		Command: p.Text,
	})

	events, err := c.gw.runner.Run(runCtx, model.Request{
		ThreadID: uint64(tid),
		Prompt:   p.Text,
		Command:  p.Text,
		Media:    media,
	})
	if err != nil {
		cancel()
		c.gw.registry.Remove(tid, gen)
		c.gw.tasks.Fail(t.ID, err.Error(), errors.Is(err, model.ErrBusy))
		return c.writeError(ctx, "starting turn: "+err.Error())
	}

	c.gw.tasks.Start(t.ID)
	c.units.Add(1)
	go c.runUnit(runCtx, cancel, tid, gen, t.ID, events)
	return nil
}

// runUnit drains one execution unit's events into the mailbox, gating
// tool calls on user approval.
func (c *connection) runUnit(ctx context.Context, cancel context.CancelFunc, tid thread.ID, gen uint64, taskID task.ID, events <-chan model.Event) {
	defer c.units.Done()
	defer cancel()
	defer c.gw.registry.Remove(tid, gen)

	sink := bridge.NewSink(c.mailbox, tid)
	sink.Frame(protocol.NewServerFrame(&protocol.StreamStart{}))

	for ev := range events {
		switch ev.Type {
		case model.EventThinkingStart:
			sink.Frame(protocol.NewServerFrame(&protocol.ThinkingStart{}))
		case model.EventThinkingDelta:
			sink.Frame(protocol.NewServerFrame(&protocol.ThinkingDelta{Delta: ev.Text}))
		case model.EventThinkingEnd:
			sink.Frame(protocol.NewServerFrame(&protocol.ThinkingEnd{}))
		case model.EventChunk:
			sink.Frame(protocol.NewServerFrame(&protocol.Chunk{Delta: ev.Text}))
		case model.EventToolCall:
			c.relayToolCall(ctx, sink, ev.ToolCall)
		case model.EventToolResult:
			sink.Frame(protocol.NewServerFrame(&protocol.ToolResult{
				ID:      ev.ToolResult.ID,
				Result:  ev.ToolResult.Output,
				IsError: ev.ToolResult.IsError,
			}))
		case model.EventDone:
			c.gw.tasks.Complete(taskID, ev.Response)
			sink.Done(ev.Response)
		case model.EventError:
			if ctx.Err() != nil {
				c.gw.tasks.Cancel(taskID)
			} else {
				c.gw.tasks.Fail(taskID, ev.Err, ev.Retryable)
			}
			sink.Error(ev.Err)
		}
	}
}

// relayToolCall asks the user before surfacing a tool invocation. Denial
// is reported as an errored tool result; the turn continues.
func (c *connection) relayToolCall(ctx context.Context, sink *bridge.Sink, tc *model.ToolCallEvent) {
	sink.Frame(protocol.NewServerFrame(&protocol.ToolApprovalRequest{
		ID:        tc.ID,
		Name:      tc.Name,
		Arguments: tc.InputJSON,
	}))
	if !c.gw.approvals.Request(ctx, tc.ID) {
		sink.Frame(protocol.NewServerFrame(&protocol.ToolResult{
			ID:      tc.ID,
			Name:    tc.Name,
			Result:  "denied by user",
			IsError: true,
		}))
		return
	}
	sink.Frame(protocol.NewServerFrame(&protocol.ToolCall{
		ID:        tc.ID,
		Name:      tc.Name,
		Arguments: tc.InputJSON,
	}))
}

func (c *connection) handleToolApprovalResponse(ctx context.Context, p *protocol.ToolApprovalResponse) error {
	if !c.gw.approvals.Resolve(p.ID, p.Approved) {
		return c.writeError(ctx, "no pending approval with that id")
	}
	return nil
}

func (c *connection) handleUserPromptResponse(ctx context.Context, p *protocol.UserPromptResponse) error {
	if !c.gw.prompts.Resolve(p.ID, promptAnswer{Value: p.Value, Dismissed: p.Dismissed}) {
		return c.writeError(ctx, "no pending prompt with that id")
	}
	return nil
}

// ── Tasks and threads ───────────────────────────────────────────────────────

func (c *connection) handleTasksRequest(ctx context.Context, p *protocol.TasksRequest) error {
	var list []task.Task
	if p.Session != "" {
		list = c.gw.tasks.ForSession(p.Session)
	} else {
		list = c.gw.tasks.All()
	}
	infos := make([]protocol.TaskInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, protocol.TaskInfo{
			ID:           uint64(t.ID),
			Label:        t.DisplayLabel(),
			Description:  t.Message,
			Status:       t.Status.String(),
			IsForeground: t.Status == task.StatusRunning,
		})
	}
	return c.writeFrame(ctx, &protocol.TasksUpdate{Tasks: infos})
}

func (c *connection) threadsUpdate() *protocol.ThreadsUpdate {
	all := c.gw.threads.All()
	fg := c.gw.threads.ForegroundID()
	infos := make([]protocol.ThreadInfo, 0, len(all))
	for _, th := range all {
		if !th.SidebarVisible && th.ID != fg {
			continue
		}
		infos = append(infos, protocol.ThreadInfo{
			ID:           uint64(th.ID),
			Label:        th.Label,
			Description:  th.Description,
			Status:       th.Status.String(),
			IsForeground: th.ID == fg,
			MessageCount: th.MessageCount,
			HasSummary:   th.Summary != "",
		})
	}
	return &protocol.ThreadsUpdate{Threads: infos, ForegroundID: uint64(fg)}
}

func (c *connection) handleThreadCreate(ctx context.Context, p *protocol.ThreadCreate) error {
	th, err := c.gw.threads.Create(thread.KindChat, p.Label, 0)
	if err != nil {
		return c.writeError(ctx, err.Error())
	}
	if err := c.writeFrame(ctx, &protocol.ThreadCreated{ThreadID: uint64(th.ID), Label: th.Label}); err != nil {
		return err
	}
	return c.writeFrame(ctx, c.threadsUpdate())
}

func (c *connection) handleThreadSwitch(ctx context.Context, p *protocol.ThreadSwitch) error {
	tid := thread.ID(p.ThreadID)
	if _, err := c.gw.threads.Foreground(tid); err != nil {
		return c.writeError(ctx, err.Error())
	}
	th, err := c.gw.threads.Get(tid)
	if err != nil {
		return c.writeError(ctx, err.Error())
	}
	if err := c.writeFrame(ctx, &protocol.ThreadSwitched{
		ThreadID:       uint64(th.ID),
		ContextSummary: th.Summary,
	}); err != nil {
		return err
	}
	return c.writeFrame(ctx, c.threadsUpdate())
}

func (c *connection) handleThreadList(ctx context.Context) error {
	return c.writeFrame(ctx, c.threadsUpdate())
}

func (c *connection) handleThreadClose(ctx context.Context, p *protocol.ThreadClose) error {
	tid := thread.ID(p.ThreadID)
	cancelled := c.gw.registry.Cancel(tid)
	var err error
	if cancelled {
		err = c.gw.threads.Cancel(tid)
	} else {
		err = c.gw.threads.Complete(tid, "")
	}
	if err != nil {
		return c.writeError(ctx, err.Error())
	}
	return c.writeFrame(ctx, c.threadsUpdate())
}

func (c *connection) handleThreadRename(ctx context.Context, p *protocol.ThreadRename) error {
	if p.NewLabel == "" {
		return c.writeError(ctx, "label is required")
	}
	if err := c.gw.threads.Rename(thread.ID(p.ThreadID), p.NewLabel); err != nil {
		return c.writeError(ctx, err.Error())
	}
	return c.writeFrame(ctx, c.threadsUpdate())
}
