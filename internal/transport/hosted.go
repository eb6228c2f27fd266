package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/phone"
)

// SessionGetter reads the durable session record; the hosted variant
// keeps no connection state of its own.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (core.Session, error)
}

// HostedConfig points at the external provider. Leaving it empty is
// not an error: some deployments run without this backend enabled.
type HostedConfig struct {
	BaseURL string
	Token   string
}

// Hosted proxies init and send to a managed provider over HTTP. The
// provider owns the actual connection; from this process's point of
// view the adapter is stateless.
type Hosted struct {
	cfg      HostedConfig
	client   *http.Client
	sessions SessionGetter
}

func NewHosted(cfg HostedConfig, sessions SessionGetter) *Hosted {
	return &Hosted{
		cfg:      cfg,
		client:   &http.Client{Timeout: 15 * time.Second},
		sessions: sessions,
	}
}

func (a *Hosted) configured() bool { return a.cfg.BaseURL != "" && a.cfg.Token != "" }

// InitSession degrades to READ_ONLY when the provider is not
// configured instead of failing, so status endpoints keep working.
func (a *Hosted) InitSession(ctx context.Context, sessionID string) (InitResult, error) {
	if !a.configured() {
		return InitResult{Status: core.SessionReadOnly}, nil
	}
	var out InitResult
	err := a.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/init", nil, &out)
	if err != nil {
		return InitResult{}, err
	}
	return out, nil
}

func (a *Hosted) SendMessage(ctx context.Context, sessionID, to, body, mediaRef string) (SendResult, error) {
	if !a.configured() {
		return SendResult{}, fmt.Errorf("hosted provider not configured: %w", core.ErrConfig)
	}
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return SendResult{}, err
	}
	if sess.Status != core.SessionConnected {
		return SendResult{}, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, core.ErrSessionNotReady)
	}

	req := map[string]string{"to": to, "body": body}
	if mediaRef != "" {
		req["mediaUrl"] = mediaRef
	}
	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := a.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", req, &out); err != nil {
		log.Printf("hosted send to %s failed: %v", phone.Mask(to), err)
		return SendResult{}, err
	}
	return SendResult{ProviderID: out.MessageID}, nil
}

// CloseSession asks the provider to drop the session. Unconfigured
// deployments have nothing to close.
func (a *Hosted) CloseSession(ctx context.Context, sessionID string) error {
	if !a.configured() {
		return nil
	}
	return a.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/logout", nil, nil)
}

func (a *Hosted) call(ctx context.Context, method, path string, in, out any) error {
	var payload io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s %s: %v: %w", method, path, err, core.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Provider error bodies are not surfaced to callers.
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("provider %s %s: status %d: %w", method, path, resp.StatusCode, core.ErrTransport)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
