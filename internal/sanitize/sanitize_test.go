package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeEmptyStringUnchanged(t *testing.T) {
	if got := New().Sanitize(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestSanitizeStripsScriptsAndHandlers(t *testing.T) {
	s := New()
	got := s.Sanitize(`<script>alert(1)</script><p onclick="steal()">hello</p>`)
	if got != "<p>hello</p>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSanitizeLinkSchemes(t *testing.T) {
	s := New()
	tests := []struct {
		name      string
		input     string
		keep      string
		forbidden string
	}{
		{name: "https", input: `<a href="https://example.com/x">x</a>`, keep: `href="https://example.com/x"`},
		{name: "mailto", input: `<a href="mailto:me@example.com">x</a>`, keep: `href="mailto:me@example.com"`},
		{name: "tel", input: `<a href="tel:+123">x</a>`, keep: `href="tel:+123"`},
		{name: "relative", input: `<a href="/about">x</a>`, keep: `href="/about"`},
		{name: "javascript", input: `<a href="javascript:alert(1)">x</a>`, forbidden: "javascript:"},
		{name: "ftp", input: `<a href="ftp://files.example.com">x</a>`, forbidden: "ftp:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			if tt.keep != "" && !strings.Contains(got, tt.keep) {
				t.Fatalf("expected %q in %q", tt.keep, got)
			}
			if tt.forbidden != "" && strings.Contains(got, tt.forbidden) {
				t.Fatalf("expected %q to be removed from %q", tt.forbidden, got)
			}
		})
	}
}

func TestSanitizeForcesRelOnBlankTarget(t *testing.T) {
	s := New()
	got := s.Sanitize(`<p><a href="https://example.com" target="_blank" rel="opener">go</a> <a href="/x">stay</a></p>`)
	if !strings.Contains(got, `target="_blank" rel="noopener noreferrer"`) {
		t.Fatalf("expected forced rel, got %q", got)
	}
	if strings.Contains(got, `"opener"`) {
		t.Fatalf("expected original rel to be replaced, got %q", got)
	}
	if !strings.Contains(got, `<a href="/x">stay</a>`) {
		t.Fatalf("expected plain link untouched, got %q", got)
	}
}

func TestSanitizeRestrictsClasses(t *testing.T) {
	s := New()
	if got := s.Sanitize(`<p class="align-center">x</p>`); got != `<p class="align-center">x</p>` {
		t.Fatalf("expected alignment class kept, got %q", got)
	}
	if got := s.Sanitize(`<p class="hero-banner">x</p>`); got != `<p>x</p>` {
		t.Fatalf("expected unknown class dropped, got %q", got)
	}
}
