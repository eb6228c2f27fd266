package core

import "errors"

// Error taxonomy shared across the delivery engine. Handlers map these
// to HTTP status codes; workers decide retry behavior from them.
var (
	// ErrValidation marks a malformed caller request.
	ErrValidation = errors.New("validation_error")

	// ErrNotFound marks an unknown session or campaign id.
	ErrNotFound = errors.New("not_found")

	// ErrSessionNotReady is returned when a send is attempted on a
	// session that is not CONNECTED.
	ErrSessionNotReady = errors.New("session_not_ready")

	// ErrIntegrity is returned when a credential envelope fails
	// authentication on decrypt. Never retried automatically.
	ErrIntegrity = errors.New("integrity_error")

	// ErrTransport wraps rejections and timeouts from the chat network
	// or the hosted provider.
	ErrTransport = errors.New("transport_error")

	// ErrConfig marks missing process configuration (encryption key,
	// provider credentials). Fatal at startup for default backends.
	ErrConfig = errors.New("configuration_error")
)
