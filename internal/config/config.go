package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Delivery sinks selectable with OTP_DELIVERY.
const (
	DeliveryLog  = "log"
	DeliveryNATS = "nats"
	DeliveryHTTP = "http"
)

// Config holds the application configuration. It is loaded once at startup
// and never changed afterwards.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret        string        `env:"JWT_SECRET"`
	JWTPrivateKeyPEM string        `env:"JWT_PRIVATE_KEY_PEM"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"phonegate"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"phonegate-clients"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	TokenHMACKey     string        `env:"TOKEN_HMAC_KEY"`

	OTP OTPConfig

	OTPDelivery       string        `env:"OTP_DELIVERY" envDefault:"log"`
	NATSURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSOTPSubject    string        `env:"NATS_OTP_SUBJECT" envDefault:"sms.otp"`
	SMSGatewayURL     string        `env:"SMS_GATEWAY_URL"`
	SMSGatewayTimeout time.Duration `env:"SMS_GATEWAY_TIMEOUT" envDefault:"5s"`

	RedisURL       string        `env:"REDIS_URL"`
	IPRequestLimit int           `env:"IP_REQUEST_LIMIT" envDefault:"10"`
	IPVerifyLimit  int           `env:"IP_VERIFY_LIMIT" envDefault:"20"`
	IPWindow       time.Duration `env:"IP_WINDOW" envDefault:"10m"`
}

// OTPConfig holds the code lifecycle limits.
type OTPConfig struct {
	Length      int           `env:"OTP_LENGTH" envDefault:"6"`
	Validity    time.Duration `env:"OTP_VALIDITY" envDefault:"5m"`
	HourlyLimit int           `env:"OTP_HOURLY_LIMIT" envDefault:"3"`
	DailyLimit  int           `env:"OTP_DAILY_LIMIT" envDefault:"10"`
	MaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
}

// Load reads .env files (if present) and then the environment. Variables already
// set in the environment win over .env values.
func Load() (*Config, error) {
	// Load .env from CWD or server/ so it works from repo root or server/
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.Parse(c.DatabaseURL); err != nil {
		errs = append(errs, fmt.Errorf("DATABASE_URL is invalid: %w", err))
	}
	if c.JWTSecret == "" && strings.TrimSpace(c.JWTPrivateKeyPEM) == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWT_PRIVATE_KEY_PEM is required"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}

	if c.OTP.Length < 4 || c.OTP.Length > 9 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 9, got %d", c.OTP.Length))
	}
	if c.OTP.Validity <= 0 {
		errs = append(errs, errors.New("OTP_VALIDITY must be positive"))
	}
	if c.OTP.HourlyLimit <= 0 || c.OTP.DailyLimit <= 0 || c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP limits must be positive"))
	}
	if c.OTP.DailyLimit < c.OTP.HourlyLimit {
		errs = append(errs, errors.New("OTP_DAILY_LIMIT must not be lower than OTP_HOURLY_LIMIT"))
	}

	switch c.OTPDelivery {
	case DeliveryLog:
	case DeliveryNATS:
		if c.NATSURL == "" || c.NATSOTPSubject == "" {
			errs = append(errs, errors.New("NATS_URL and NATS_OTP_SUBJECT are required for nats delivery"))
		}
	case DeliveryHTTP:
		if c.SMSGatewayURL == "" {
			errs = append(errs, errors.New("SMS_GATEWAY_URL is required for http delivery"))
		}
	default:
		errs = append(errs, fmt.Errorf("OTP_DELIVERY must be one of log, nats, http; got %q", c.OTPDelivery))
	}

	if c.IPRequestLimit <= 0 || c.IPVerifyLimit <= 0 || c.IPWindow <= 0 {
		errs = append(errs, errors.New("IP throttle limits must be positive"))
	}

	return errors.Join(errs...)
}

// IsLocal reports whether the service runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}

// DatabaseTarget describes the database for logs without credentials.
func (c *Config) DatabaseTarget() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, dbName, user)
}
