// Package app wires the phonegate runtime: stores, core managers, delivery sink,
// edge throttles and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/config"
	"github.com/phonegate/server/internal/delivery"
	apphttp "github.com/phonegate/server/internal/http"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/profile"
	"github.com/phonegate/server/internal/repo"
)

// App owns the HTTP handler and every resource that has to be closed on shutdown.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	handler http.Handler
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	sender   auth.Sender
	registry *prometheus.Registry
}

// WithSender replaces the configured delivery sink.
func WithSender(s auth.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New constructs a fully wired App. database must already be migrated.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, database *sql.DB, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: log}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	tokens, err := auth.NewJWTService(auth.TokenConfig{
		Secret:        cfg.JWTSecret,
		PrivateKeyPEM: cfg.JWTPrivateKeyPEM,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		TTL:           cfg.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: token issuer: %w", err)
	}

	sender := o.sender
	if sender == nil {
		sender, err = a.newSender()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	requestLimiter, verifyLimiter, err := a.newLimiters(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	users := repo.NewUserRepo(database)
	otps := repo.NewOtpRepo(database)
	sessions := repo.NewSessionRepo(database)
	profiles := repo.NewProfileRepo(database)

	var hasher auth.Hasher
	if cfg.TokenHMACKey != "" {
		hasher = auth.NewHasher([]byte(cfg.TokenHMACKey))
	} else {
		hasher = auth.NewHasher(nil)
	}

	otpManager := auth.NewOTPManager(otps, sender, hasher, auth.OTPConfig{
		CodeLength:  cfg.OTP.Length,
		Validity:    cfg.OTP.Validity,
		HourlyLimit: cfg.OTP.HourlyLimit,
		DailyLimit:  cfg.OTP.DailyLimit,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, m)

	sessionCfg := auth.DefaultSessionConfig()
	sessionCfg.RefreshTTL = cfg.RefreshTokenTTL
	sessionManager := auth.NewSessionManager(sessions, users, tokens, hasher, sessionCfg, m)

	authService := auth.NewAuthService(otpManager, sessionManager, users)
	profileService := profile.NewService(users, profiles)

	a.handler = apphttp.NewRouter(apphttp.Deps{
		Logger:         log,
		Auth:           handlers.NewAuthHandler(authService),
		User:           handlers.NewUserHandler(profileService),
		Health:         handlers.NewHealthHandler(database),
		Verifier:       tokens,
		RequestLimiter: requestLimiter,
		VerifyLimiter:  verifyLimiter,
		LimitWindow:    cfg.IPWindow,
		Gatherer:       reg,
	})

	return a, nil
}

func (a *App) newSender() (auth.Sender, error) {
	switch a.cfg.OTPDelivery {
	case config.DeliveryNATS:
		nc, err := delivery.Connect(a.cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return nc.Drain() })
		a.log.Info().Str("subject", a.cfg.NATSOTPSubject).Msg("otp delivery via nats")
		return delivery.NewNATSSink(nc, a.cfg.NATSOTPSubject), nil
	case config.DeliveryHTTP:
		a.log.Info().Msg("otp delivery via sms gateway")
		return delivery.NewHTTPSink(a.cfg.SMSGatewayURL, a.cfg.SMSGatewayTimeout), nil
	default:
		if !a.cfg.IsLocal() {
			a.log.Warn().Msg("otp codes are written to the log; use nats or http delivery outside local")
		}
		return delivery.NewLogSink(a.log), nil
	}
}

func (a *App) newLimiters(ctx context.Context) (middleware.Limiter, middleware.Limiter, error) {
	if a.cfg.RedisURL == "" {
		request := middleware.NewRateLimiter(a.cfg.IPWindow, a.cfg.IPRequestLimit)
		verify := middleware.NewRateLimiter(a.cfg.IPWindow, a.cfg.IPVerifyLimit)
		a.closers = append(a.closers,
			func() error { request.Close(); return nil },
			func() error { verify.Close(); return nil },
		)
		return request, verify, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := middleware.NewRedisClient(pingCtx, a.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("app: redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.log.Info().Msg("edge throttle backed by redis")

	return middleware.NewRedisLimiter(rdb, "phonegate:rl:request:", a.cfg.IPWindow, a.cfg.IPRequestLimit),
		middleware.NewRedisLimiter(rdb, "phonegate:rl:verify:", a.cfg.IPWindow, a.cfg.IPVerifyLimit),
		nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("port", a.cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}

	a.log.Info().Msg("server exited")
	return nil
}

// Close releases the delivery connection and the throttles. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
