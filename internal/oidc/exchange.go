package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Exchanger trades an external JWT for one issued by the trusted provider.
// It is only consulted when direct verification failed with a transient
// cause; permanent failures never reach it.
type Exchanger struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewExchanger builds an exchange client for the Descope-style endpoint
// <base>/oauth2/v1/apps/token.
func NewExchanger(baseURL, clientID, clientSecret string) *Exchanger {
	return &Exchanger{
		endpoint:     strings.TrimRight(baseURL, "/") + "/oauth2/v1/apps/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Exchange posts the external assertion and returns the provider-issued
// access token.
func (e *Exchanger) Exchange(ctx context.Context, externalJWT, externalIssuer string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", externalJWT)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	form.Set("issuer", externalIssuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: endpoint returned status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrExchangeFailed, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrExchangeFailed)
	}

	log.Debug().Str("issuer", externalIssuer).Msg("token exchange succeeded")
	return body.AccessToken, nil
}

// DescopeIssuer is the issuer embedded in provider-minted tokens.
func DescopeIssuer(baseURL, projectID string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/apps/" + projectID
}

// DescopeJWKSURL is the provider-specific key set location, derived from the
// project identifier rather than the issuer.
func DescopeJWKSURL(baseURL, projectID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + projectID + "/.well-known/jwks.json"
}
