package personas

import "errors"

var (
	// ErrPersonaNotFound is returned by Select for unknown persona names.
	ErrPersonaNotFound = errors.New("persona not found")
)
