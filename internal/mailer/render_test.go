package mailer

import (
	"html/template"
	"strings"
	"testing"
)

func TestRenderSelectsExactlyOneVariant(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	data := NewsletterData{
		SiteTitle:      "Field Notes",
		AuthorName:     "Robin",
		PostTitle:      "Spring",
		PostURL:        "https://notes.example.com/posts/7",
		Excerpt:        "EXCERPT-MARKER short digest",
		Body:           template.HTML("<p>BODY-MARKER full text</p>"),
		BodyText:       "BODY-MARKER full text",
		UnsubscribeURL: "https://notes.example.com/unsubscribe?token=abc",
	}

	htmlBody, textBody, err := r.Render(data)
	if err != nil {
		t.Fatalf("render excerpt: %v", err)
	}
	if !strings.Contains(htmlBody, "EXCERPT-MARKER") || strings.Contains(htmlBody, "BODY-MARKER") {
		t.Fatalf("expected excerpt-only html, got %s", htmlBody)
	}
	if !strings.Contains(textBody, "EXCERPT-MARKER") || strings.Contains(textBody, "BODY-MARKER") {
		t.Fatalf("expected excerpt-only text, got %s", textBody)
	}
	if !strings.Contains(htmlBody, "https://notes.example.com/unsubscribe?token=abc") {
		t.Fatalf("expected unsubscribe link in html")
	}

	data.FullPost = true
	htmlBody, textBody, err = r.Render(data)
	if err != nil {
		t.Fatalf("render full: %v", err)
	}
	if !strings.Contains(htmlBody, "<p>BODY-MARKER full text</p>") || strings.Contains(htmlBody, "EXCERPT-MARKER") {
		t.Fatalf("expected full-body html, got %s", htmlBody)
	}
	if !strings.Contains(textBody, "BODY-MARKER") || strings.Contains(textBody, "EXCERPT-MARKER") {
		t.Fatalf("expected full-body text, got %s", textBody)
	}
}

func TestRenderEscapesTitleAndHero(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	htmlBody, _, err := r.Render(NewsletterData{
		SiteTitle:    "Site",
		PostTitle:    "<script>x</script>",
		HeroImageURL: "https://cdn.example.com/hero-600w.jpg",
		HeroCaption:  "At dawn",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(htmlBody, "<script>x</script>") {
		t.Fatal("expected title to be escaped")
	}
	if !strings.Contains(htmlBody, `src="https://cdn.example.com/hero-600w.jpg"`) || !strings.Contains(htmlBody, "At dawn") {
		t.Fatalf("expected hero figure, got %s", htmlBody)
	}
}

func TestSubject(t *testing.T) {
	tests := map[string][2]string{
		"[Site] Title":    {"Site", "Title"},
		"Title":           {"", "Title"},
		"[Site] New post": {"Site", " "},
		"New post":        {"", ""},
	}
	for want, in := range tests {
		if got := Subject(in[0], in[1]); got != want {
			t.Fatalf("Subject(%q,%q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
