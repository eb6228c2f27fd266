// Package tasks is the managed-task-queue worker runtime: an external
// scheduler POSTs one job per invocation and drives retries from the
// response code. Side effects are identical to the broker runtime
// because both run the same worker.Sender.
package tasks

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/queue"
	"github.com/vendaflow/zapengine/internal/worker"
)

type Handler struct {
	Sender *worker.Sender
	// Secret authenticates the scheduler. Empty disables the endpoint.
	Secret string
}

func NewHandler(sender *worker.Sender, secret string) *Handler {
	return &Handler{Sender: sender, Secret: secret}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Secret == "" || r.Header.Get("X-Task-Secret") != h.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var job queue.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil || job.RecipientID == "" || job.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	if err := h.Sender.Process(r.Context(), job); err != nil {
		log.Printf("task recipient=%s: %v", job.RecipientID, err)
		code := "send_failed"
		if errors.Is(err, core.ErrSessionNotReady) {
			code = "session_not_ready"
		}
		// 500 tells the scheduler to apply its own retry policy.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
