package synth

import "errors"

var (
	// ErrInvalidRequest is returned when a request cannot be synthesized at all.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSecretNotFound is returned by SecretMap for unknown references.
	ErrSecretNotFound = errors.New("secret not found")
)
