// Package state persists per-domain check state with HMAC integrity
// protection.
package state

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

var (
	// ErrTampered is returned when stored data fails HMAC verification.
	ErrTampered = errors.New("state hmac mismatch: data may have been tampered with")
	// ErrNotFound is returned for operations on unknown domains.
	ErrNotFound = errors.New("domain state not found")
	// ErrSecretRequired is returned when no HMAC secret is configured.
	ErrSecretRequired = errors.New("state hmac secret is required")
)

// Signer computes and verifies HMAC-SHA256 signatures.
type Signer struct {
	secret []byte
}

// NewSigner returns a signer for secret.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex HMAC of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the stored signature against payload in constant time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SealDomain encodes a domain state and signs it.
func (s *Signer) SealDomain(st core.DomainState) ([]byte, string, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, "", fmt.Errorf("encode domain state: %w", err)
	}
	return payload, s.Sign(payload), nil
}

// OpenDomain verifies and decodes a sealed domain state.
func (s *Signer) OpenDomain(payload []byte, signature string) (*core.DomainState, error) {
	if !s.Verify(payload, signature) {
		return nil, ErrTampered
	}
	var st core.DomainState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode domain state: %w", err)
	}
	return &st, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}

// Store is implemented by every state backend.
type Store interface {
	Get(ctx context.Context, domain string) (*core.DomainState, error)
	Record(ctx context.Context, result core.CheckResult) (core.DomainState, error)
	MarkNotified(ctx context.Context, domain string, at time.Time) error
	Domains(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*RedisStore)(nil)
)
