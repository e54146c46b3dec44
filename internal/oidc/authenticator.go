package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Authenticator runs direct verification, falling back to token exchange for
// transient failures when an exchanger is configured.
type Authenticator struct {
	Primary   *Verifier
	Exchanger *Exchanger
	Provider  *Verifier // validates tokens minted by the exchange provider
}

// NewDescopeVerifier builds a verifier for provider-minted tokens. The JWKS
// location is project-derived, not issuer-derived.
func NewDescopeVerifier(baseURL, projectID string, leeway, jwksTTL time.Duration) *Verifier {
	return &Verifier{
		Issuer:   DescopeIssuer(baseURL, projectID),
		Audience: projectID,
		Leeway:   leeway,
		Keys:     NewKeySetCache(DescopeJWKSURL(baseURL, projectID), jwksTTL),
	}
}

// Authenticate verifies token, exchanging it for a trusted one when the
// direct path fails with a transient cause.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, directErr := a.Primary.Verify(ctx, token)
	if directErr == nil {
		return claims, nil
	}
	if a.Exchanger == nil || a.Provider == nil || IsPermanent(directErr) {
		return nil, directErr
	}

	externalIssuer := unverifiedIssuer(token)
	trusted, exchErr := a.Exchanger.Exchange(ctx, token, externalIssuer)
	if exchErr != nil {
		return nil, fmt.Errorf("%w (direct: %v)", exchErr, directErr)
	}

	log.Debug().Str("issuer", externalIssuer).Msg("retrying verification with exchanged token")
	return a.Provider.Verify(ctx, trusted)
}

// unverifiedIssuer extracts iss without verification; the exchange endpoint
// decides whether it trusts that issuer.
func unverifiedIssuer(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	iss, _ := claims["iss"].(string)
	return iss
}
