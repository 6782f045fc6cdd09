package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	webhookSecretKeyEnv = "WEBHOOK_SECRET_KEY"

	// SealedSecretPrefix marks a stored webhook secret and its format version.
	SealedSecretPrefix = "wsk1:"

	// GeneratedSecretPrefix is prepended to secrets minted by GenerateWebhookSecret.
	GeneratedSecretPrefix = "whsec_"

	keyInfo = "moltguard webhook signing secret"
)

var (
	ErrSecretKeyMissing = errors.New("security: " + webhookSecretKeyEnv + " is not set")
	// ErrSecretUnsealed is returned for a stored secret that was never sealed.
	ErrSecretUnsealed = errors.New("security: stored webhook secret is not sealed")
	ErrSecretCorrupt  = errors.New("security: stored webhook secret cannot be opened")
)

// SecretBox seals webhook signing secrets for storage. Each sealed value is
// bound to its subscription id and opens only for that subscription.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the sealing key from the operator-supplied master key.
func NewSecretBox(masterKey string) (*SecretBox, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, ErrSecretKeyMissing
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("security: derive webhook secret key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("security: init webhook secret cipher: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Seal returns the storable form of secret for subscriptionID. An empty
// secret stays empty: the subscription is unsigned.
func (b *SecretBox) Seal(subscriptionID, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	if subscriptionID == "" {
		return "", errors.New("security: sealing a webhook secret requires a subscription id")
	}

	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(secret)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: webhook secret nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(secret), []byte(subscriptionID))
	return SealedSecretPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Stored values that are not sealed, or were sealed for
// another subscription, are rejected.
func (b *SecretBox) Open(subscriptionID, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(stored, SealedSecretPrefix)
	if !ok {
		return "", fmt.Errorf("%w: subscription %s", ErrSecretUnsealed, subscriptionID)
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(data) < b.aead.NonceSize()+b.aead.Overhead() {
		return "", fmt.Errorf("%w: subscription %s: malformed value", ErrSecretCorrupt, subscriptionID)
	}
	nonce, body := data[:b.aead.NonceSize()], data[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, body, []byte(subscriptionID))
	if err != nil {
		return "", fmt.Errorf("%w: subscription %s", ErrSecretCorrupt, subscriptionID)
	}
	return string(plain), nil
}

var (
	defaultBoxMu sync.Mutex
	defaultBox   *SecretBox
)

// box returns the process-wide SecretBox keyed from WEBHOOK_SECRET_KEY.
// A missing key is not cached so it can be supplied later.
func box() (*SecretBox, error) {
	defaultBoxMu.Lock()
	defer defaultBoxMu.Unlock()

	if defaultBox != nil {
		return defaultBox, nil
	}
	b, err := NewSecretBox(os.Getenv(webhookSecretKeyEnv))
	if err != nil {
		return nil, err
	}
	defaultBox = b
	return b, nil
}

// SealWebhookSecret seals secret for subscriptionID with the process key.
func SealWebhookSecret(subscriptionID, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	b, err := box()
	if err != nil {
		return "", err
	}
	return b.Seal(subscriptionID, secret)
}

// OpenWebhookSecret opens a stored secret for subscriptionID with the process key.
func OpenWebhookSecret(subscriptionID, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	b, err := box()
	if err != nil {
		return "", err
	}
	return b.Open(subscriptionID, stored)
}

// GenerateWebhookSecret returns a fresh random signing secret.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate webhook secret: %w", err)
	}
	return GeneratedSecretPrefix + hex.EncodeToString(buf), nil
}

// ResetSecretBoxForTests drops the cached process key.
func ResetSecretBoxForTests() {
	defaultBoxMu.Lock()
	defaultBox = nil
	defaultBoxMu.Unlock()
}
