package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/queue"
	"github.com/vendaflow/zapengine/internal/transport"
)

// Store is the slice of core.Store the orchestrator uses. Handlers
// depend on the interface so tests can run against fakes.
type Store interface {
	CreateSession(ctx context.Context, id string) (core.Session, error)
	GetSession(ctx context.Context, id string) (core.Session, error)
	SetSessionStatus(ctx context.Context, id, status string) error
	CloseSession(ctx context.Context, id string) (bool, error)
	ImportContacts(ctx context.Context, contacts []core.Contact) (int, error)
	ListContacts(ctx context.Context, limit, offset int) ([]core.Contact, error)
	CreateCampaign(ctx context.Context, c core.Campaign, recipients []core.NewRecipient) (string, []string, error)
	GetCampaign(ctx context.Context, id string) (core.Campaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]core.Campaign, error)
	CampaignTotals(ctx context.Context, campaignID string) (core.Totals, error)
}

// Publisher fans campaign recipients into the delivery queue. Nil when
// this deployment's scheduler enqueues tasks out-of-band.
type Publisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

// Pinger is what readiness checks need from the DB pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Store       Store
	Adapter     transport.Adapter
	Queue       Publisher
	DB          Pinger
	APIKey      string
	CountryCode string

	// TaskHandler, when set, mounts the managed-task-queue runtime
	// endpoint on this server.
	TaskHandler http.Handler
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/sessions/create", s.createSession)
		r.Get("/sessions/{id}/status", s.getSessionStatus)
		r.Post("/sessions/{id}/logout", s.logout)

		r.Post("/contacts/import", s.importContacts)
		r.Get("/contacts", s.listContacts)

		r.Post("/campaigns", s.createCampaign)
		r.Get("/campaigns", s.listCampaigns)
		r.Get("/campaigns/{id}/status", s.getCampaignStatus)

		if s.TaskHandler != nil {
			r.Method(http.MethodPost, "/tasks/execute", s.TaskHandler)
		}
	})
	return r
}

// requireAPIKey guards every route except health and metrics.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey == "" || r.Header.Get("X-Api-Key") != s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto status codes. Internal detail
// never reaches the caller beyond the error code itself.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error"})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, core.ErrSessionNotReady):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session_not_ready"})
	case errors.Is(err, core.ErrConfig):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "configuration_error"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}
