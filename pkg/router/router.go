// Package router mounts the identity provider's HTTP surface: the
// OAuth2/OIDC protocol endpoints, the discovery documents, and the
// authentication API used by the hosted login page.
package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/classlane/idp/pkg/login/loginapi"
	oidcapi "github.com/classlane/idp/pkg/oidc/api"
	"github.com/classlane/idp/pkg/ratelimit"
	"github.com/classlane/idp/pkg/wellknown"
)

// Config holds the handlers to mount
type Config struct {
	OAuth2Handle    oidcapi.Handle
	AuthHandle      loginapi.Handle
	WellKnownHandle wellknown.Handle

	// Optional rate limiting applied to the whole surface
	RateLimit *ratelimit.Middleware
}

// SetupRoutes mounts all endpoints on the router
func SetupRoutes(router chi.Router, cfg Config) {
	if cfg.RateLimit != nil {
		router.Use(cfg.RateLimit.Handler)
	}

	router.Route("/.well-known", cfg.WellKnownHandle.Routes)
	router.Route("/oauth2", cfg.OAuth2Handle.Routes)
	router.Route("/api/auth", cfg.AuthHandle.Routes)
}

// AuthEndpointLimits returns the tightened per-endpoint budgets for
// credential-sensitive routes, keyed the way the middleware expects.
func AuthEndpointLimits() map[string]ratelimit.EndpointLimit {
	perMinute := func(n int) ratelimit.EndpointLimit {
		return ratelimit.EndpointLimit{Capacity: n, RefillRate: float64(n) / 60.0}
	}
	return map[string]ratelimit.EndpointLimit{
		"POST /api/auth/login":                  perMinute(10),
		"POST /api/auth/register":               perMinute(5),
		"POST /api/auth/email/verify":           perMinute(10),
		"POST /api/auth/email/resend":           perMinute(3),
		"POST /api/auth/password/reset":         perMinute(3),
		"POST /api/auth/password/reset/confirm": perMinute(10),
		"POST /oauth2/token":                    perMinute(60),
	}
}
