package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/metrics"
	"github.com/vendaflow/zapengine/internal/phone"
	"github.com/vendaflow/zapengine/internal/queue"
)

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID string `json:"sessionId"`
	}
	// An empty body is fine; the id is optional.
	_ = json.NewDecoder(r.Body).Decode(&in)
	id := in.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := s.Store.CreateSession(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	res, err := s.Adapter.InitSession(r.Context(), id)
	if err != nil {
		// Deliberately no rollback: the record stays for inspection
		// and a later retry.
		_ = s.Store.SetSessionStatus(r.Context(), id, core.SessionError)
		log.Printf("session %s: init failed: %v", id, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "session_init_failed", "sessionId": id})
		return
	}

	out := map[string]any{"sessionId": id, "status": res.Status}
	if res.QR != "" {
		out["qr"] = res.QR
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := map[string]any{"sessionId": sess.ID, "status": sess.Status}
	if sess.Phone != nil {
		out["phone"] = *sess.Phone
	}
	writeJSON(w, http.StatusOK, out)
}

// logout always succeeds from the caller's perspective: adapter close
// errors are absorbed, the durable CLOSED write is what counts, and a
// second concurrent logout is a no-op.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Adapter.CloseSession(r.Context(), id); err != nil {
		log.Printf("session %s: adapter close: %v", id, err)
	}
	if _, err := s.Store.CloseSession(r.Context(), id); err != nil {
		log.Printf("session %s: close write: %v", id, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) importContacts(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_multipart"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file_required"})
		return
	}
	defer file.Close()

	contacts, err := ParseContactsCSV(file, s.CountryCode)
	if err != nil {
		writeErr(w, err)
		return
	}
	created, err := s.Store.ImportContacts(r.Context(), contacts)
	if err != nil {
		writeErr(w, err)
		return
	}
	metrics.ContactsImported.Add(float64(created))
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 100)
	items, err := s.Store.ListContacts(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	if items == nil {
		items = []core.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

type campaignRequest struct {
	Campaign struct {
		Name            string     `json:"name"`
		MessageTemplate string     `json:"messageTemplate"`
		Speed           int        `json:"speed"`
		StartTime       *time.Time `json:"startTime,omitempty"`
		EndTime         *time.Time `json:"endTime,omitempty"`
		ABTest          *struct {
			TemplateB string `json:"templateB"`
		} `json:"abTest,omitempty"`
		Media *struct {
			URL string `json:"url"`
		} `json:"media,omitempty"`
	} `json:"campaign"`
	Recipients []struct {
		ContactID string `json:"contactId,omitempty"`
		Phone     string `json:"phone"`
		Message   string `json:"message,omitempty"`
	} `json:"recipients"`
	SessionID string `json:"sessionId"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if in.Campaign.Name == "" || in.Campaign.MessageTemplate == "" || len(in.Recipients) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error"})
		return
	}
	// Jobs carry the session id; without one they can never be delivered
	// and would loop in redelivery forever.
	if s.Queue != nil && in.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error"})
		return
	}

	c := core.Campaign{
		Name:            in.Campaign.Name,
		MessageTemplate: in.Campaign.MessageTemplate,
		Speed:           in.Campaign.Speed,
		StartTime:       in.Campaign.StartTime,
		EndTime:         in.Campaign.EndTime,
	}
	if in.Campaign.ABTest != nil && in.Campaign.ABTest.TemplateB != "" {
		tb := in.Campaign.ABTest.TemplateB
		c.ABTemplateB = &tb
	}
	if in.Campaign.Media != nil && in.Campaign.Media.URL != "" {
		mu := in.Campaign.Media.URL
		c.MediaURL = &mu
	}

	recipients := make([]core.NewRecipient, 0, len(in.Recipients))
	for i, rec := range in.Recipients {
		normalized, ok := phone.Normalize(rec.Phone, s.CountryCode)
		if !ok {
			continue // invalid phone, contact rejected
		}
		variant := core.VariantA
		if c.ABTemplateB != nil && i%2 == 1 {
			variant = core.VariantB
		}
		msg := rec.Message
		if msg == "" {
			msg = c.MessageTemplate
			if variant == core.VariantB {
				msg = *c.ABTemplateB
			}
		}
		nr := core.NewRecipient{Phone: normalized, Message: msg, Variant: variant}
		if rec.ContactID != "" {
			cid := rec.ContactID
			nr.ContactID = &cid
		}
		recipients = append(recipients, nr)
	}
	if len(recipients) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error"})
		return
	}

	campaignID, recipientIDs, err := s.Store.CreateCampaign(r.Context(), c, recipients)
	if err != nil {
		writeErr(w, err)
		return
	}
	metrics.CampaignsCreated.Inc()

	if s.Queue != nil {
		mediaURL := ""
		if c.MediaURL != nil {
			mediaURL = *c.MediaURL
		}
		for i, rid := range recipientIDs {
			job := queue.Job{
				SessionID:   in.SessionID,
				To:          recipients[i].Phone,
				Body:        recipients[i].Message,
				MediaURL:    mediaURL,
				CampaignID:  campaignID,
				RecipientID: rid,
			}
			if err := s.Queue.Publish(r.Context(), job); err != nil {
				// The campaign exists; jobs not enqueued here will be
				// re-enqueued by an operator replay.
				log.Printf("campaign %s: enqueue recipient %s: %v", campaignID, rid, err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"campaignId": campaignID})
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	items, err := s.Store.ListCampaigns(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	if items == nil {
		items = []core.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) getCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetCampaign(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	totals, err := s.Store.CampaignTotals(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign": c, "totals": totals})
}

func pagination(r *http.Request, defLimit int) (limit, offset int) {
	limit = defLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
