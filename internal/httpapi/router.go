// Package httpapi serves the consent ledger over HTTP. Callers authenticate
// with an HS256 bearer token whose subject is their principal.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
)

// APIPrefix is the path prefix of every ledger route
const APIPrefix = "/api/v1"

// RouterOptions configures a router
type RouterOptions struct {
	Validator   *TokenValidator
	Logger      *logger.Logger
	Metrics     *monitoring.MetricsCollector
	Health      *monitoring.HealthManager
	HealthPath  string
	MetricsPath string
	// RateLimiter throttles each authenticated principal when set.
	RateLimiter *RateLimiter
	// MaxBodyBytes caps request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

// NewRouter builds the router of the full ledger service
func NewRouter(api LedgerAPI, opts RouterOptions) http.Handler {
	opts = opts.withDefaults()
	return newRouter(opts, NewHandlers(api, opts.Logger).RegisterRoutes)
}

// NewAuditRouter builds the router of the read-only audit query service
func NewAuditRouter(api AuditAPI, opts RouterOptions) http.Handler {
	opts = opts.withDefaults()
	return newRouter(opts, NewAuditHandlers(api, opts.Logger).RegisterRoutes)
}

func (opts RouterOptions) withDefaults() RouterOptions {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return opts
}

func newRouter(opts RouterOptions, register func(*mux.Router)) http.Handler {
	router := mux.NewRouter().UseEncodedPath()
	router.Use(requestIDMiddleware, securityHeadersMiddleware, loggingMiddleware(opts.Logger))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.HTTPMiddleware)
		router.Handle(opts.MetricsPath, opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	if opts.Health != nil {
		router.HandleFunc(opts.HealthPath, opts.Health.HTTPHandler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix(APIPrefix).Subrouter()
	api.Use(maxBodyMiddleware(opts.MaxBodyBytes), authMiddleware(opts.Validator, opts.Logger))
	if opts.RateLimiter != nil {
		api.Use(rateLimitMiddleware(opts.RateLimiter, opts.Logger))
	}
	register(api)

	return router
}
