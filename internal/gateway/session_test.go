// ABOUTME: Session behavior tests: chat streaming, cancel, threads, approvals.
// ABOUTME: Uses the scripted execution unit to drive deterministic streams.

package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claw-gateway/internal/model"
	"github.com/2389/claw-gateway/internal/protocol"
)

func chatScript() []model.Event {
	return []model.Event{
		{Type: model.EventThinkingStart},
		{Type: model.EventThinkingDelta, Text: "hmm"},
		{Type: model.EventThinkingEnd},
		{Type: model.EventChunk, Text: "hello "},
		{Type: model.EventChunk, Text: "world"},
		{Type: model.EventDone, Response: "hello world"},
	}
}

// connectReady dials and consumes the handshake for a gateway with no
// second factor enrolled.
func connectReady(t *testing.T, gw *Gateway) *testHarness {
	t.Helper()
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindStatus)
	return h
}

func TestChatStreamsToClient(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner(chatScript()...))
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "hi"})

	h.recvKind(t, protocol.KindStreamStart)
	h.recvKind(t, protocol.KindThinkingStart)
	f := h.recvKind(t, protocol.KindThinkingDelta)
	assert.Equal(t, "hmm", f.Payload.(*protocol.ThinkingDelta).Delta)
	h.recvKind(t, protocol.KindThinkingEnd)

	var text string
	for i := 0; i < 2; i++ {
		f = h.recvKind(t, protocol.KindChunk)
		text += f.Payload.(*protocol.Chunk).Delta
	}
	assert.Equal(t, "hello world", text)

	f = h.recvKind(t, protocol.KindResponseDone)
	assert.True(t, f.Payload.(*protocol.ResponseDone).OK)

	// The turn created the foreground thread and recorded the message.
	threads := gw.threads.All()
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].MessageCount)
	assert.Empty(t, gw.registry.RunningThreads())
}

func TestChatExecutesWithDefaultRunner(t *testing.T) {
	// No runner supplied, so the gateway falls back to the shell runner.
	gw := newTestGateway(t, nil)
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "echo hello"})

	h.recvKind(t, protocol.KindStreamStart)
	f := h.recvKind(t, protocol.KindChunk)
	assert.Contains(t, f.Payload.(*protocol.Chunk).Delta, "hello")
	f = h.recvKind(t, protocol.KindResponseDone)
	assert.True(t, f.Payload.(*protocol.ResponseDone).OK)
}

func TestChatWhileBusyRejected(t *testing.T) {
	runner := model.NewScriptedRunner(chatScript()...)
	runner.SetDelay(time.Hour)
	gw := newTestGateway(t, runner)
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "first"})
	h.recvKind(t, protocol.KindStreamStart)

	h.send(t, &protocol.Chat{Text: "second"})
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "busy")
}

func TestCancelAbortsForegroundTurn(t *testing.T) {
	runner := model.NewScriptedRunner(chatScript()...)
	runner.SetDelay(time.Hour)
	gw := newTestGateway(t, runner)
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "long task"})
	h.recvKind(t, protocol.KindStreamStart)
	require.Len(t, gw.registry.RunningThreads(), 1)

	// ThreadID zero targets the foreground thread.
	h.send(t, &protocol.Cancel{ThreadID: 0})
	h.recvKind(t, protocol.KindInfo)

	// The unit reports the aborted turn, then disappears from the registry.
	h.recvKind(t, protocol.KindError)
	f := h.recvKind(t, protocol.KindResponseDone)
	assert.False(t, f.Payload.(*protocol.ResponseDone).OK)

	require.Eventually(t, func() bool {
		return len(gw.registry.RunningThreads()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelWithNothingRunning(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := connectReady(t, gw)

	h.send(t, &protocol.Cancel{ThreadID: 42})
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "nothing running")
}

func TestLegacyTextChatAccepted(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner(chatScript()...))
	h := connectReady(t, gw)

	msg, _ := json.Marshal(map[string]string{"type": "chat", "text": "hi"})
	h.sendText(t, string(msg))

	h.recvKind(t, protocol.KindStreamStart)
	h.recvKind(t, protocol.KindResponseDone)
}

func TestLegacyTextRejectedAfterBinary(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner(chatScript()...))
	h := connectReady(t, gw)

	// Prove the client speaks the binary protocol first.
	h.send(t, &protocol.ThreadList{})
	h.recvKind(t, protocol.KindThreadsUpdate)

	h.sendText(t, `{"type":"chat","text":"hi"}`)
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "legacy")
}

func TestThreadLifecycleOverWire(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := connectReady(t, gw)

	h.send(t, &protocol.ThreadCreate{Label: "research"})
	f := h.recvKind(t, protocol.KindThreadCreated)
	created := f.Payload.(*protocol.ThreadCreated)
	assert.Equal(t, "research", created.Label)
	h.recvKind(t, protocol.KindThreadsUpdate)

	h.send(t, &protocol.ThreadCreate{Label: "scratch"})
	f = h.recvKind(t, protocol.KindThreadCreated)
	second := f.Payload.(*protocol.ThreadCreated)
	h.recvKind(t, protocol.KindThreadsUpdate)

	h.send(t, &protocol.ThreadSwitch{ThreadID: second.ThreadID})
	f = h.recvKind(t, protocol.KindThreadSwitched)
	assert.Equal(t, second.ThreadID, f.Payload.(*protocol.ThreadSwitched).ThreadID)
	f = h.recvKind(t, protocol.KindThreadsUpdate)
	assert.Equal(t, second.ThreadID, f.Payload.(*protocol.ThreadsUpdate).ForegroundID)

	h.send(t, &protocol.ThreadRename{ThreadID: second.ThreadID, NewLabel: "notes"})
	f = h.recvKind(t, protocol.KindThreadsUpdate)
	update := f.Payload.(*protocol.ThreadsUpdate)
	var renamed bool
	for _, th := range update.Threads {
		if th.ID == second.ThreadID && th.Label == "notes" {
			renamed = true
		}
	}
	assert.True(t, renamed)

	h.send(t, &protocol.ThreadClose{ThreadID: second.ThreadID})
	f = h.recvKind(t, protocol.KindThreadsUpdate)
	for _, th := range f.Payload.(*protocol.ThreadsUpdate).Threads {
		if th.ID == second.ThreadID {
			assert.Equal(t, "completed", th.Status)
		}
	}

	h.send(t, &protocol.ThreadSwitch{ThreadID: 9999})
	h.recvKind(t, protocol.KindError)
}

func TestToolCallRequiresApproval(t *testing.T) {
	script := []model.Event{
		{Type: model.EventToolCall, ToolCall: &model.ToolCallEvent{
			ID: "tc-1", Name: "read_file", InputJSON: `{"path":"/etc/hosts"}`,
		}},
		{Type: model.EventDone, Response: "done"},
	}
	gw := newTestGateway(t, model.NewScriptedRunner(script...))
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "read my hosts file"})
	f := h.recvKind(t, protocol.KindToolApprovalRequest)
	req := f.Payload.(*protocol.ToolApprovalRequest)
	assert.Equal(t, "read_file", req.Name)

	h.send(t, &protocol.ToolApprovalResponse{ID: req.ID, Approved: true})
	f = h.recvKind(t, protocol.KindToolCall)
	assert.Equal(t, "tc-1", f.Payload.(*protocol.ToolCall).ID)
	h.recvKind(t, protocol.KindResponseDone)
}

func TestToolCallDenied(t *testing.T) {
	script := []model.Event{
		{Type: model.EventToolCall, ToolCall: &model.ToolCallEvent{
			ID: "tc-2", Name: "run_command", InputJSON: `{"cmd":"rm -rf /"}`,
		}},
		{Type: model.EventDone, Response: "done"},
	}
	gw := newTestGateway(t, model.NewScriptedRunner(script...))
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "clean up"})
	f := h.recvKind(t, protocol.KindToolApprovalRequest)
	req := f.Payload.(*protocol.ToolApprovalRequest)

	h.send(t, &protocol.ToolApprovalResponse{ID: req.ID, Approved: false})
	f = h.recvKind(t, protocol.KindToolResult)
	result := f.Payload.(*protocol.ToolResult)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Result, "denied")
	h.recvKind(t, protocol.KindResponseDone)
}

func TestApprovalResponseWithoutRequest(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := connectReady(t, gw)

	h.send(t, &protocol.ToolApprovalResponse{ID: "ghost", Approved: true})
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "no pending approval")
}

func TestTasksRequestReflectsTurns(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner(chatScript()...))
	h := connectReady(t, gw)

	h.send(t, &protocol.Chat{Text: "hi"})
	h.recvKind(t, protocol.KindResponseDone)

	h.send(t, &protocol.TasksRequest{})
	f := h.recvKind(t, protocol.KindTasksUpdate)
	update := f.Payload.(*protocol.TasksUpdate)
	require.Len(t, update.Tasks, 1)
	assert.Equal(t, "completed", update.Tasks[0].Status)
}

func TestConnectionCloseNormal(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := connectReady(t, gw)
	require.NoError(t, h.conn.Close(websocket.StatusNormalClosure, "bye"))
}
