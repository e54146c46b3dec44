package config

import "errors"

var (
	ErrMissingIssuer       = errors.New("OIDC_ISSUER must be set")
	ErrMissingAudience     = errors.New("OIDC_AUD must be set")
	ErrBadAuthBackend      = errors.New("AUTH_BACKEND must be one of auth0, descope, mixed")
	ErrBadCacheBackend     = errors.New("CACHE_BACKEND must be memory or shared")
	ErrBadQueueBackend     = errors.New("QUEUE_BACKEND must be memory or shared")
	ErrBadQuotaBackend     = errors.New("QUOTA_BACKEND must be memory or shared")
	ErrMissingDescopeCreds = errors.New("ENABLE_DESCOPE_EXCHANGE requires DESCOPE_PROJECT_ID, DESCOPE_CLIENT_ID and DESCOPE_CLIENT_SECRET")
)
