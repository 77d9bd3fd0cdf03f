package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const defaultSecretBytes = 32

// Hasher produces the one-way digests stored for OTP codes and refresh secrets.
// With a key it computes HMAC-SHA256, otherwise plain SHA-256. Output is lowercase hex.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A nil or empty key selects plain SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// Hash returns the hex digest of secret.
func (h Hasher) Hash(secret string) string {
	if len(h.key) == 0 {
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two hex digests in constant time. Digests are always
// lowercase, so the comparison is case-sensitive.
func (h Hasher) Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// otpSecret is the value hashed for an OTP row.
func otpSecret(phone, code string) string {
	return phone + ":" + code
}

// RandomSecret returns n cryptographically random bytes, base64url encoded.
func RandomSecret(n int) (string, error) {
	if n <= 0 {
		n = defaultSecretBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generateCode returns a numeric code of exactly length digits, uniform over
// [0, 10^length). Leading zeros are kept.
func generateCode(length int) (string, error) {
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	s := n.String()
	if len(s) < length {
		s = strings.Repeat("0", length-len(s)) + s
	}
	return s, nil
}
