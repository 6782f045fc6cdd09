package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"moltguard/internal/support"

	"github.com/golang-jwt/jwt/v5"
)

const (
	envJWTSecret = "JWT_SECRET"

	RoleAdmin   = "admin"
	RoleService = "service"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")

	signingKeyMu sync.RWMutex
	signingKey   []byte
)

// Claims carries the actor in the subject and an optional role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SetSigningKey overrides the HS256 key. Without it JWT_SECRET is used.
func SetSigningKey(key []byte) {
	signingKeyMu.Lock()
	defer signingKeyMu.Unlock()
	signingKey = append([]byte(nil), key...)
}

func currentKey() ([]byte, error) {
	signingKeyMu.RLock()
	key := signingKey
	signingKeyMu.RUnlock()

	if len(key) > 0 {
		return key, nil
	}
	if env := strings.TrimSpace(support.GetEnv(envJWTSecret, "")); env != "" {
		return []byte(env), nil
	}
	return nil, errors.New("auth: signing key not configured: " + envJWTSecret)
}

// ValidateJWT parses an HS256 token and requires a subject.
func ValidateJWT(raw string) (*Claims, error) {
	key, err := currentKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// GenerateJWT issues a token for subject. Tokens are normally minted by the
// identity service; this exists for tooling and tests.
func GenerateJWT(subject, role string, ttl time.Duration) (string, error) {
	key, err := currentKey()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
