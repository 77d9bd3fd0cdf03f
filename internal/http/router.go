package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/middleware"
)

// Deps are the collaborators the router wires into routes.
type Deps struct {
	Logger   zerolog.Logger
	Auth     *handlers.AuthHandler
	User     *handlers.UserHandler
	Health   *handlers.HealthHandler
	Verifier middleware.TokenVerifier

	// Per-IP edge throttles for the OTP endpoints.
	RequestLimiter middleware.Limiter
	VerifyLimiter  middleware.Limiter
	LimitWindow    time.Duration

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/health", d.Health.ServeHTTP)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(middleware.RateLimit(d.RequestLimiter, d.LimitWindow, middleware.IPKey)).
			Post("/request_otp", d.Auth.HandleRequestOTP)
		r.With(middleware.RateLimit(d.VerifyLimiter, d.LimitWindow, middleware.IPKey)).
			Post("/verify_otp", d.Auth.HandleVerifyOTP)
		r.Post("/refresh", d.Auth.HandleRefresh)
		r.Post("/logout", d.Auth.HandleLogout)
	})

	// Protected routes (require valid JWT)
	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Verifier))
		r.Post("/register/basic", d.User.HandleRegisterBasic)
		r.With(middleware.RequireRegistration).Get("/me", d.User.HandleMe)
	})

	return r
}

// requestIDLogger adds chi's request id to the request logger.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
