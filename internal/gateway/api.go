// ABOUTME: HTTP API: status, tasks, threads; bearer-token auth plus CSRF.
// ABOUTME: Tokens come from the AuthResult frame after the WebSocket handshake.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/claw-gateway/internal/task"
	"github.com/2389/claw-gateway/internal/thread"
)

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/csrf", g.requireAuth(g.handleCSRF))
	mux.HandleFunc("/api/status", g.requireAuth(g.handleStatus))
	mux.HandleFunc("/api/tasks", g.requireAuth(g.handleTasks))
	mux.HandleFunc("/api/tasks/cancel", g.requireAuth(g.requireCSRF(g.handleTaskCancel)))
	mux.HandleFunc("/api/threads", g.requireAuth(g.handleThreads))
}

// requireAuth checks the Authorization bearer token against the session
// token issuer.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tok == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := g.sessions.Verify(tok); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// requireCSRF enforces the X-CSRF-Token header on mutating endpoints.
// Tokens stay valid until their TTL expires, so a client may reuse one
// across requests.
func (g *Gateway) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.Header.Get("X-CSRF-Token")
		if tok == "" || !g.csrf.Validate(tok) {
			writeJSONError(w, http.StatusForbidden, "missing or invalid csrf token")
			return
		}
		next(w, r)
	}
}

func (g *Gateway) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	tok, err := g.csrf.Issue()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, map[string]string{"token": tok})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	stats := g.tasks.Stats()
	writeJSON(w, map[string]any{
		"agent":         agentName,
		"vault_locked":  g.vault.Locked(),
		"active_tasks":  stats.ActiveCount(),
		"running_units": len(g.registry.RunningThreads()),
		"foreground_id": uint64(g.threads.ForegroundID()),
	})
}

type apiTask struct {
	ID        uint64 `json:"id"`
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (g *Gateway) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	var list []task.Task
	if session := r.URL.Query().Get("session"); session != "" {
		list = g.tasks.ForSession(session)
	} else {
		list = g.tasks.All()
	}
	out := make([]apiTask, 0, len(list))
	for _, t := range list {
		out = append(out, apiTask{
			ID:        uint64(t.ID),
			Kind:      t.Kind.String(),
			Label:     t.DisplayLabel(),
			Status:    t.Status.String(),
			Message:   t.Message,
			Summary:   t.Summary,
			Error:     t.Error,
			Retryable: t.Retryable,
		})
	}
	writeJSON(w, map[string]any{"tasks": out})
}

func (g *Gateway) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}
	cancelled, err := g.tasks.Cancel(task.ID(id))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"cancelled": cancelled})
}

type apiThread struct {
	ID           uint64 `json:"id"`
	Kind         string `json:"kind"`
	Label        string `json:"label"`
	Status       string `json:"status"`
	ParentID     uint64 `json:"parent_id,omitempty"`
	MessageCount int    `json:"message_count"`
	IsForeground bool   `json:"is_foreground"`
}

func (g *Gateway) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	fg := g.threads.ForegroundID()
	var all []thread.Thread
	if parent := r.URL.Query().Get("parent"); parent != "" {
		id, err := strconv.ParseUint(parent, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad parent id")
			return
		}
		all = g.threads.Children(thread.ID(id))
	} else {
		all = g.threads.All()
	}
	out := make([]apiThread, 0, len(all))
	for _, th := range all {
		out = append(out, apiThread{
			ID:           uint64(th.ID),
			Kind:         th.Kind.String(),
			Label:        th.Label,
			Status:       th.Status.String(),
			ParentID:     uint64(th.ParentID),
			MessageCount: th.MessageCount,
			IsForeground: th.ID == fg,
		})
	}
	writeJSON(w, map[string]any{"threads": out, "foreground_id": uint64(fg)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
