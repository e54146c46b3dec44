package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// acceptedAlgs are the only signing algorithms the gateway trusts.
var acceptedAlgs = map[string]bool{"RS256": true, "ES256": true}

// Claims is the decoded token payload consumed downstream. Subject becomes
// the user identity for metering, sessioning and memory writes.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Verifier validates bearer tokens against one issuer's key set.
type Verifier struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	Keys     *KeySetCache
}

// NewVerifier builds a verifier for issuer/audience with the JWKS location
// derived by convention from the issuer.
func NewVerifier(issuer, audience string, leeway, jwksTTL time.Duration) *Verifier {
	return &Verifier{
		Issuer:   issuer,
		Audience: audience,
		Leeway:   leeway,
		Keys:     NewKeySetCache(JWKSURL(issuer), jwksTTL),
	}
}

// Verify validates token and returns its claims.
//
// Order matters: the header is rejected before any network traffic, and a
// kid miss triggers at most one forced JWKS refresh.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	header, err := unverifiedHeader(token)
	if err != nil {
		return nil, err
	}

	alg, _ := header["alg"].(string)
	if !acceptedAlgs[alg] {
		return nil, fmt.Errorf("%w: %q", ErrAlgNotAllowed, alg)
	}
	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, ErrKidMissing
	}

	key, ok, err := v.Keys.Key(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKidUnknown, err)
	}
	if !ok {
		keys, err := v.Keys.ForceRefresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKidUnknown, err)
		}
		if key, ok = keys[kid]; !ok {
			return nil, ErrKidUnknown
		}
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(v.Issuer),
		jwt.WithAudience(v.Audience),
		jwt.WithLeeway(v.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformed)
	}
	return claims, nil
}

func unverifiedHeader(token string) (map[string]any, error) {
	t, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return t.Header, nil
}

// classifyParseError maps golang-jwt validation errors onto the closed set.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuerUnknown, err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
