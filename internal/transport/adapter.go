// Package transport separates "how to talk to the chat network" from
// queueing and orchestration. Exactly one Adapter implementation is
// selected at process startup.
package transport

import "context"

// InitResult reports the session state right after an init attempt.
// QR is set while the device link is pending scan.
type InitResult struct {
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
}

// SendResult is the acknowledgement from the chat network or provider.
type SendResult struct {
	ProviderID string `json:"providerId"`
}

// Adapter owns at most one live connection per session and exposes the
// three operations the rest of the engine is allowed to use. Sending
// on a session that is not CONNECTED fails with core.ErrSessionNotReady;
// an adapter never queues internally.
type Adapter interface {
	InitSession(ctx context.Context, sessionID string) (InitResult, error)
	SendMessage(ctx context.Context, sessionID, to, body, mediaRef string) (SendResult, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// SessionUpdater is the slice of the store the adapters mutate on
// connection-state changes.
type SessionUpdater interface {
	SetSessionStatus(ctx context.Context, id, status string) error
	SetSessionPhone(ctx context.Context, id, phone string) error
	SetSessionBlobPath(ctx context.Context, id, path string) error
}
