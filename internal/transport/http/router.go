// Package httptransport is the protocol surface of the issuer: the authorize
// and token endpoints, the well-known documents, provider mounts, and the
// encrypted authorization cookie tying them together.
package httptransport

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"issuer/internal/audit"
	"issuer/internal/keys"
	"issuer/internal/platform/metrics"
	"issuer/internal/provider"
	"issuer/internal/storage"
	"issuer/internal/token"
	"issuer/pkg/hostmatch"
)

// Config carries the transport-level knobs.
type Config struct {
	// Issuer is the public base URL, used in the discovery document and as
	// the iss claim.
	Issuer string

	// PathPrefix mounts the whole surface under a sub-path. Empty means
	// the root.
	PathPrefix string

	// TTL holds the default access/refresh lifetimes applied to logins
	// that do not override them.
	TTL token.TTL

	// ExtraTwoLabelSuffixes extends the redirect trust heuristic's
	// two-label suffix table.
	ExtraTwoLabelSuffixes []string
}

// Server owns the HTTP surface. It is stateless per request beyond the
// encrypted cookie and the storage façade, so one instance serves any number
// of concurrent requests.
type Server struct {
	cfg       Config
	store     storage.Store
	keys      *keys.Manager
	tokens    *token.Service
	providers map[string]provider.Provider
	matcher   hostmatch.Matcher
	jar       *cookieJar
	audit     audit.Publisher
	logger    *slog.Logger
}

// NewServer wires the protocol surface. Providers are mounted in the order
// given; duplicate names are a configuration error.
func NewServer(
	cfg Config,
	store storage.Store,
	km *keys.Manager,
	tokens *token.Service,
	providers []provider.Provider,
	auditor audit.Publisher,
	logger *slog.Logger,
) (*Server, error) {
	if cfg.TTL.Access <= 0 {
		cfg.TTL.Access = time.Minute
	}
	if cfg.TTL.Refresh <= 0 {
		cfg.TTL.Refresh = 30 * 24 * time.Hour
	}

	suffixes := append([]string(nil), hostmatch.DefaultTwoLabelSuffixes...)
	suffixes = append(suffixes, cfg.ExtraTwoLabelSuffixes...)

	s := &Server{
		cfg:       cfg,
		store:     store,
		keys:      km,
		tokens:    tokens,
		providers: make(map[string]provider.Provider, len(providers)),
		matcher:   hostmatch.Matcher{Suffixes: suffixes},
		jar:       &cookieJar{codec: &cookieCodec{keys: km}},
		audit:     auditor,
		logger:    logger,
	}
	for _, p := range providers {
		if _, dup := s.providers[p.Type()]; dup {
			return nil, fmt.Errorf("provider %s mounted twice", p.Type())
		}
		s.providers[p.Type()] = p
	}
	return s, nil
}

// Router builds the chi router with every endpoint mounted under the
// configured path prefix.
func (s *Server) Router() (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mount := func(r chi.Router) error {
		r.Get("/authorize", s.handleAuthorize)
		r.Post("/token", s.handleToken)
		r.Get("/.well-known/jwks.json", s.handleJWKS)
		r.Get("/.well-known/oauth-authorization-server", s.handleDiscovery)

		for name, p := range s.providers {
			var initErr error
			r.Route("/"+name, func(pr chi.Router) {
				pr.Use(s.decorateProviderScope(name))
				initErr = p.Init(pr, provider.Options{
					Name:       name,
					Success:    s.loginSucceeded,
					Failure:    s.flowError,
					Cookie:     s.jar,
					Storage:    s.store,
					Invalidate: s.tokens,
				})
			})
			if initErr != nil {
				return fmt.Errorf("init provider %s: %w", name, initErr)
			}
		}
		return nil
	}

	if s.cfg.PathPrefix != "" && s.cfg.PathPrefix != "/" {
		var err error
		r.Route(s.cfg.PathPrefix, func(pr chi.Router) { err = mount(pr) })
		return r, err
	}
	return r, mount(r)
}

// decorateProviderScope stashes the provider name and, when the cookie is
// readable, the pending AuthorizationState into the request context before
// the adapter sees the request. The request-local copy is the fallback source
// for state recovery once the cookie has been cleared mid-response.
func (s *Server) decorateProviderScope(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withProviderName(r.Context(), name)
			if data, err := s.jar.Get(r, authorizationCookie); err == nil {
				var state AuthorizationState
				if err := unmarshalState(data, &state); err == nil {
					ctx = withAuthorizationState(ctx, &state)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "storage unhealthy", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
