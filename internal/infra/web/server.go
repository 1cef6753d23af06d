package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"solomate-backend/internal/infra/logging"
	"solomate-backend/internal/infra/metrics"
	red "solomate-backend/internal/infra/redis"
	"solomate-backend/internal/usecase"
)

type RateLimit struct {
	Limit  int
	Window time.Duration
}

type Server struct {
	meteringUC usecase.MeteringUseCase
	entUC      usecase.EntitlementUseCase
	auth       *AuthManager
	limiter    *red.RateLimiter
	deductRL   RateLimit
	apiKey     string
	log        *zerolog.Logger
}

func NewServer(
	meteringUC usecase.MeteringUseCase,
	entUC usecase.EntitlementUseCase,
	auth *AuthManager,
	limiter *red.RateLimiter,
	deductRL RateLimit,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		meteringUC: meteringUC,
		entUC:      entUC,
		auth:       auth,
		limiter:    limiter,
		deductRL:   deductRL,
		apiKey:     apiKey,
		log:        logger,
	}
}

// Router builds the full route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.traceID)
	r.Use(s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/metering", func(r chi.Router) {
		r.Use(s.userAuth)
		r.Get("/talk-time", talkTimeHandler(s.meteringUC))
		r.With(s.rateLimit("deduct-talk-time", s.deductRL)).
			Post("/deduct-talk-time", deductTalkTimeHandler(s.meteringUC))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/entitlements", entitlementGrantHandler(s.entUC))
		r.Post("/entitlements/{id}/top-up", entitlementTopUpHandler(s.entUC))
		r.Delete("/entitlements/{id}", entitlementCancelHandler(s.entUC))
		r.Get("/users/{userID}/entitlements", entitlementListHandler(s.entUC))
	})

	return r
}

// userAuth resolves the bearer identity and stores the user id in the request
// context; everything under /metering requires it.
func (s *Server) userAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.UserIDFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}

// adminAuth provides simple Bearer API-key authentication for the admin API.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), s.log)
		start := time.Now()
		ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// rateLimit rejects with 429 once a user exceeds limit calls per window.
// A limiter outage fails open: metering must not depend on redis being up.
func (s *Server) rateLimit(route string, rl RateLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil || rl.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, _ := logging.UserIDFrom(r.Context())
			ok, err := s.limiter.Allow(r.Context(), red.UserRouteKey(userID, route), rl.Limit, rl.Window)
			if err != nil {
				s.log.Warn().Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.IncRateLimited(route)
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
