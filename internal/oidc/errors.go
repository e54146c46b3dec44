package oidc

import "errors"

// Verification failures form a closed set. The permanent ones short-circuit:
// no JWKS refresh and no token exchange will make them pass. The transient
// ones may succeed after a key refresh or an exchange against the trusted
// provider.
var (
	// Permanent.
	ErrAlgNotAllowed = errors.New("signing algorithm not allowed")
	ErrKidMissing    = errors.New("token header missing kid")
	ErrMalformed     = errors.New("token malformed")
	ErrExpired       = errors.New("token expired")

	// Transient.
	ErrKidUnknown    = errors.New("signing key not found in issuer JWKS")
	ErrIssuerUnknown = errors.New("token issuer not trusted")

	// ErrExchangeFailed is returned when the token-exchange endpoint
	// rejects the assertion.
	ErrExchangeFailed = errors.New("token exchange failed")
)

// IsPermanent reports whether err is a verification failure that cannot be
// repaired by refreshing keys or exchanging the token.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAlgNotAllowed) ||
		errors.Is(err, ErrKidMissing) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrExpired)
}
