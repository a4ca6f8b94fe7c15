// Package token signs and verifies unsubscribe capabilities.
//
// A token is base64url(payload + "." + hex(HMAC-SHA256(secret, payload)))
// where payload is the base64url form of {"email": "..."}. Tokens carry no
// issue time and never expire.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

const delimiter = "."

// ErrInvalidToken is the only error Validate returns.
var ErrInvalidToken = errors.New("invalid unsubscribe token")

var errSecretMissing = errors.New("unsubscribe secret is required")

var encoding = base64.RawURLEncoding

type claims struct {
	Email string `json:"email"`
}

// Service 生成与校验退订令牌。
type Service struct {
	secret []byte
}

// NewService returns a Service keyed by secret.
func NewService(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errSecretMissing
	}
	return &Service{secret: []byte(secret)}, nil
}

// Generate returns the token for email. Equal inputs give equal tokens.
func (s *Service) Generate(email string) (string, error) {
	raw, err := json.Marshal(claims{Email: email})
	if err != nil {
		return "", err
	}
	payload := encoding.EncodeToString(raw)
	return encoding.EncodeToString([]byte(payload + delimiter + s.sign(payload))), nil
}

// Validate returns the email embedded in token.
func (s *Service) Validate(token string) (string, error) {
	decoded, err := encoding.Strict().DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", ErrInvalidToken
	}

	parts := strings.Split(string(decoded), delimiter)
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}
	payload, signature := parts[0], parts[1]

	if !hmac.Equal([]byte(s.sign(payload)), []byte(signature)) {
		return "", ErrInvalidToken
	}

	raw, err := encoding.Strict().DecodeString(payload)
	if err != nil {
		return "", ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil || strings.TrimSpace(c.Email) == "" {
		return "", ErrInvalidToken
	}
	return c.Email, nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
