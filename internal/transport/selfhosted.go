package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/phone"
	"github.com/vendaflow/zapengine/internal/vault"
)

// EventKind enumerates protocol connection events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventQR
	EventClosed
	EventCredentials
)

// Event is delivered by the protocol client whenever connection or
// credential state changes.
type Event struct {
	Kind      EventKind
	QR        string
	Phone     string
	AuthState []byte
}

// Conn is one live protocol connection.
type Conn interface {
	Send(ctx context.Context, to, body, mediaRef string) (providerID string, err error)
	Close(ctx context.Context) error
}

// Dialer opens protocol connections. prevState carries the decrypted
// auth blob from a previous run, or nil for a fresh link. The dialer
// must invoke onEvent for the initial state before returning and for
// every later change.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, prevState []byte, onEvent func(Event)) (Conn, error)
}

type liveSession struct {
	conn   Conn
	status string
	qr     string
}

// SelfHosted drives in-process protocol connections, one per session
// id. The registry map is owned exclusively by this adapter; all
// mutation goes through InitSession/SendMessage/CloseSession. Across
// multiple worker instances the caller must hold the per-session lock
// before driving a session here.
type SelfHosted struct {
	dialer   Dialer
	vault    *vault.Vault
	sessions SessionUpdater

	mu   sync.Mutex
	live map[string]*liveSession
}

func NewSelfHosted(d Dialer, v *vault.Vault, s SessionUpdater) *SelfHosted {
	return &SelfHosted{dialer: d, vault: v, sessions: s, live: make(map[string]*liveSession)}
}

// InitSession resumes from the persisted credential blob when one
// exists and opens the connection. An integrity failure on the blob
// aborts the resume path outright; a missing blob means a fresh link,
// and any other store error is surfaced rather than guessed around.
//
// The session is registered in the live map before the dial starts, so
// a concurrent InitSession for the same id sees the in-flight entry and
// returns its current status instead of opening a second connection.
func (a *SelfHosted) InitSession(ctx context.Context, sessionID string) (InitResult, error) {
	a.mu.Lock()
	if ls, ok := a.live[sessionID]; ok {
		res := InitResult{Status: ls.status, QR: ls.qr}
		a.mu.Unlock()
		return res, nil
	}
	ls := &liveSession{status: core.SessionStarting}
	a.live[sessionID] = ls
	a.mu.Unlock()

	prev, err := a.vault.LoadState(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			// Integrity failures and store errors both abort the resume;
			// only a missing blob means a fresh link.
			a.unregister(sessionID, ls)
			return InitResult{}, fmt.Errorf("session %s credential blob: %w", sessionID, err)
		}
		prev = nil
	}

	conn, err := a.dialer.Dial(ctx, sessionID, prev, func(ev Event) {
		a.handleEvent(sessionID, ls, ev)
	})
	if err != nil {
		a.unregister(sessionID, ls)
		_ = a.sessions.SetSessionStatus(context.WithoutCancel(ctx), sessionID, core.SessionError)
		return InitResult{}, fmt.Errorf("dial session %s: %w", sessionID, err)
	}

	a.mu.Lock()
	if a.live[sessionID] != ls {
		// Closed while the dial was in flight; the registration is gone.
		a.mu.Unlock()
		_ = conn.Close(context.WithoutCancel(ctx))
		return InitResult{}, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotReady)
	}
	ls.conn = conn
	res := InitResult{Status: ls.status, QR: ls.qr}
	a.mu.Unlock()
	return res, nil
}

// unregister drops the live entry only if it still belongs to this
// attempt, so a failed init never evicts a successor's registration.
func (a *SelfHosted) unregister(sessionID string, ls *liveSession) {
	a.mu.Lock()
	if a.live[sessionID] == ls {
		delete(a.live, sessionID)
	}
	a.mu.Unlock()
}

func (a *SelfHosted) handleEvent(sessionID string, ls *liveSession, ev Event) {
	ctx := context.Background()
	switch ev.Kind {
	case EventConnected:
		a.mu.Lock()
		ls.status = core.SessionConnected
		ls.qr = ""
		a.mu.Unlock()
		_ = a.sessions.SetSessionStatus(ctx, sessionID, core.SessionConnected)
		if ev.Phone != "" {
			_ = a.sessions.SetSessionPhone(ctx, sessionID, ev.Phone)
			log.Printf("session %s connected as %s", sessionID, phone.Mask(ev.Phone))
		}
	case EventQR:
		a.mu.Lock()
		ls.status = core.SessionQRPending
		ls.qr = ev.QR
		a.mu.Unlock()
		_ = a.sessions.SetSessionStatus(ctx, sessionID, core.SessionQRPending)
	case EventClosed:
		a.mu.Lock()
		ls.status = core.SessionClosed
		delete(a.live, sessionID)
		a.mu.Unlock()
		_ = a.sessions.SetSessionStatus(ctx, sessionID, core.SessionClosed)
	case EventCredentials:
		// Write-through: every credential change is persisted
		// immediately. Identical rewrites land on the same path and are
		// harmless.
		p, err := a.vault.SaveState(ctx, sessionID, ev.AuthState)
		if err != nil {
			log.Printf("session %s: persist credentials: %v", sessionID, err)
			return
		}
		_ = a.sessions.SetSessionBlobPath(ctx, sessionID, p)
	}
}

func (a *SelfHosted) SendMessage(ctx context.Context, sessionID, to, body, mediaRef string) (SendResult, error) {
	a.mu.Lock()
	ls, ok := a.live[sessionID]
	var conn Conn
	var status string
	if ok {
		conn, status = ls.conn, ls.status
	}
	a.mu.Unlock()

	if !ok || status != core.SessionConnected || conn == nil {
		return SendResult{}, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotReady)
	}

	providerID, err := conn.Send(ctx, to, body, mediaRef)
	if err != nil {
		log.Printf("session %s: send to %s failed: %v", sessionID, phone.Mask(to), err)
		return SendResult{}, fmt.Errorf("send to %s: %v: %w", phone.Mask(to), err, core.ErrTransport)
	}
	return SendResult{ProviderID: providerID}, nil
}

// CloseSession tears down the live connection if one exists. Unknown
// sessions are a no-op so close is idempotent and safe mid-flight.
func (a *SelfHosted) CloseSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	ls, ok := a.live[sessionID]
	if ok {
		delete(a.live, sessionID)
	}
	a.mu.Unlock()
	if !ok || ls.conn == nil {
		return nil
	}
	return ls.conn.Close(ctx)
}
