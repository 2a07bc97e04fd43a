package wxcrypto

import "errors"

var (
	// ErrSignatureMismatch is returned when a callback signature does not match the shared token.
	ErrSignatureMismatch = errors.New("wxcrypto: signature mismatch")
	// ErrInvalidEnvelope wraps every failure to open an encrypted envelope.
	ErrInvalidEnvelope = errors.New("wxcrypto: invalid envelope")
	// ErrTenantMismatch is joined with ErrInvalidEnvelope when the embedded tenant id is foreign.
	ErrTenantMismatch = errors.New("wxcrypto: tenant id mismatch")
)
