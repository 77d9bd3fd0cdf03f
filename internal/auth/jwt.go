package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const verifyLeeway = 30 * time.Second

// AccessClaims is the payload of an access token. RegistrationComplete is a
// snapshot taken at issuance and is only refreshed by minting a new token.
type AccessClaims struct {
	PhoneNumber          string `json:"phone"`
	SessionID            string `json:"sid"`
	RegistrationComplete bool   `json:"reg"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenConfig configures the access token issuer.
type TokenConfig struct {
	Secret        string
	PrivateKeyPEM string
	Issuer        string
	Audience      string
	TTL           time.Duration
}

// JWTService signs and verifies access tokens (HS256 with a shared secret,
// or RS256 when an RSA private key is configured).
type JWTService struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	audience  string
	ttl       time.Duration
}

// NewJWTService creates the issuer. Misconfiguration is reported once here,
// never per request.
func NewJWTService(cfg TokenConfig) (*JWTService, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: access token ttl must be positive", ErrSigningKey)
	}
	s := &JWTService{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
	}

	switch {
	case strings.TrimSpace(cfg.PrivateKeyPEM) != "":
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
		}
		s.method = jwt.SigningMethodRS256
		s.signKey = priv
		s.verifyKey = &priv.PublicKey
	case cfg.Secret != "":
		s.method = jwt.SigningMethodHS256
		s.signKey = []byte(cfg.Secret)
		s.verifyKey = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("%w: secret or private key required", ErrSigningKey)
	}

	return s, nil
}

// IssueAccessToken creates an access token for an identity and session.
func (s *JWTService) IssueAccessToken(userID uuid.UUID, phoneNumber string, sessionID uuid.UUID, registrationComplete bool, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl)
	claims := &AccessClaims{
		PhoneNumber:          phoneNumber,
		SessionID:            sessionID.String(),
		RegistrationComplete: registrationComplete,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, exp, nil
}

// VerifyToken verifies signature, expiry, issuer and audience of an access token.
func (s *JWTService) VerifyToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != s.method.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.verifyKey, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(verifyLeeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}

	return claims, nil
}

// PublicKey returns the RSA verification key, or nil for HS256.
func (s *JWTService) PublicKey() *rsa.PublicKey {
	pub, _ := s.verifyKey.(*rsa.PublicKey)
	return pub
}
