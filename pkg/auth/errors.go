package auth

import "errors"

// Typed authorization errors. Stores and the resolver return these (or
// wrap them); only the guard and HTTP handlers map them to status
// codes and client-facing messages.
var (
	// ErrUnauthenticated means no valid identity was presented. Maps
	// to 401.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden means a valid identity lacks the capability, role,
	// ownership, or permission level required. Maps to 403.
	ErrForbidden = errors.New("access denied")

	// ErrReauthRequired means the identity is valid but its credential
	// check is too old for a sensitive operation. Maps to 401 with the
	// CodeReauthRequired error code so clients can prompt for
	// re-entry instead of a full logout.
	ErrReauthRequired = errors.New("recent authentication required")

	// ErrBadRequest means a required identifier could not be extracted
	// from the request. Maps to 400.
	ErrBadRequest = errors.New("missing required identifier")
)

// CodeReauthRequired is the machine-readable error code attached to
// ErrReauthRequired denials.
const CodeReauthRequired = "REAUTH_REQUIRED"
