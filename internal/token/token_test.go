package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("unsubscribe-test-secret")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := newTestService(t)
	emails := []string{
		"reader@example.com",
		"first.last+news@sub.example.co.uk",
		"Mixed.Case@Example.com",
		"weird|pipe.dots...@example.org",
	}
	for _, email := range emails {
		tok, err := svc.Generate(email)
		if err != nil {
			t.Fatalf("generate %q: %v", email, err)
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("expected url-safe token, got %q", tok)
		}
		got, err := svc.Validate(tok)
		if err != nil {
			t.Fatalf("validate %q: %v", email, err)
		}
		if got != email {
			t.Fatalf("expected %q, got %q", email, got)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	svc := newTestService(t)
	first, _ := svc.Generate("reader@example.com")
	second, _ := svc.Generate("reader@example.com")
	if first != second {
		t.Fatalf("expected identical tokens, got %q and %q", first, second)
	}
}

func TestValidateRejectsSignatureMutations(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Generate("reader@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	inner := string(decoded)
	sigStart := strings.Index(inner, delimiter) + 1

	replacements := []byte{'0', 'f', 'A', 'z', '.', '-'}
	for i := sigStart; i < len(inner); i++ {
		for _, r := range replacements {
			if inner[i] == r {
				continue
			}
			mutated := inner[:i] + string(r) + inner[i+1:]
			forged := base64.RawURLEncoding.EncodeToString([]byte(mutated))
			if _, err := svc.Validate(forged); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("mutation at %d to %q accepted", i, r)
			}
		}
	}
}

func TestValidateRejectsMalformedTokens(t *testing.T) {
	svc := newTestService(t)
	other, _ := NewService("another-secret")
	foreign, _ := other.Generate("reader@example.com")

	enc := base64.RawURLEncoding.EncodeToString
	payloadNoEmail := enc([]byte(`{"name":"x"}`))
	payloadBadJSON := enc([]byte(`not json`))

	tests := map[string]string{
		"empty":          "",
		"not base64":     "%%%",
		"no delimiter":   enc([]byte("abcdef")),
		"three parts":    enc([]byte("a.b.c")),
		"foreign secret": foreign,
		"missing email":  enc([]byte(payloadNoEmail + delimiter + svc.sign(payloadNoEmail))),
		"bad payload":    enc([]byte(payloadBadJSON + delimiter + svc.sign(payloadBadJSON))),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
