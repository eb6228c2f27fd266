package transport

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// SimDialer is the development stand-in for the real protocol client.
// It links instantly when prior auth state exists and emits a QR
// otherwise, so the whole engine can run end to end without a device.
type SimDialer struct {
	// FailureRate is the per-send probability of a transport error.
	FailureRate int // percent
}

func NewSimDialer() *SimDialer { return &SimDialer{FailureRate: 3} }

func (d *SimDialer) Dial(_ context.Context, sessionID string, prevState []byte, onEvent func(Event)) (Conn, error) {
	state := prevState
	if state == nil {
		onEvent(Event{Kind: EventQR, QR: "sim-qr-" + sessionID})
		state = []byte("sim-auth-" + sessionID)
	}
	onEvent(Event{Kind: EventCredentials, AuthState: state})
	onEvent(Event{Kind: EventConnected, Phone: "5511999990000"})
	return &simConn{failureRate: d.FailureRate, onEvent: onEvent}, nil
}

type simConn struct {
	failureRate int
	onEvent     func(Event)
}

func (c *simConn) Send(ctx context.Context, to, body, mediaRef string) (string, error) {
	// Simulate latency and occasional failures.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if rand.Intn(100) < c.failureRate {
		return "", errors.New("provider_temporary_error")
	}
	return "sim-" + randomID(), nil
}

func (c *simConn) Close(context.Context) error {
	c.onEvent(Event{Kind: EventClosed})
	return nil
}

func randomID() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}
