package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var alignmentClassPattern = regexp.MustCompile(`^align-(left|center|right|justify)(\s+align-(left|center|right|justify))*$`)

var allowedElements = []string{
	"p", "br", "hr", "div", "span",
	"h2", "h3", "h4", "h5",
	"strong", "b", "em", "i", "u", "s", "sub", "sup", "small", "mark",
	"blockquote", "q", "cite", "code", "pre",
	"ul", "ol", "li",
	"figure", "figcaption",
	"table", "thead", "tbody", "tr", "th", "td",
}

// Sanitizer 负责在暂存前过滤富文本 HTML。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New constructs the content policy.
func New() *Sanitizer {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(allowedElements...)

	policy.AllowURLSchemes("http", "https", "mailto", "tel", "sms")
	policy.AllowRelativeURLs(true)
	policy.RequireParseableURLs(true)

	policy.AllowAttrs("href", "title").OnElements("a")
	policy.AllowAttrs("target").Matching(regexp.MustCompile(`^(_blank|_self)$`)).OnElements("a")
	policy.AllowAttrs("rel").Matching(regexp.MustCompile(`^[a-z ]+$`)).OnElements("a")
	policy.AllowAttrs("src", "alt", "title").OnElements("img")
	policy.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	policy.AllowAttrs("class").Matching(alignmentClassPattern).
		OnElements("p", "div", "span", "figure", "img", "h2", "h3", "h4", "h5", "blockquote", "table")

	return &Sanitizer{policy: policy}
}

// Sanitize returns the allowlisted form of input. An empty string is
// returned unchanged: clearing content is a supported action.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	return enforceBlankTargetRel(s.policy.Sanitize(input))
}

// enforceBlankTargetRel rewrites rel on every <a target="_blank">.
func enforceBlankTargetRel(fragment string) string {
	if !strings.Contains(fragment, "_blank") {
		return fragment
	}

	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out.String()
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}

		raw := append([]byte(nil), z.Raw()...)
		tok := z.Token()
		if tok.Data != "a" || !hasBlankTarget(tok.Attr) {
			out.Write(raw)
			continue
		}

		attrs := make([]html.Attribute, 0, len(tok.Attr)+1)
		for _, attr := range tok.Attr {
			if attr.Key != "rel" {
				attrs = append(attrs, attr)
			}
		}
		tok.Attr = append(attrs, html.Attribute{Key: "rel", Val: "noopener noreferrer"})
		out.WriteString(tok.String())
	}
}

func hasBlankTarget(attrs []html.Attribute) bool {
	for _, attr := range attrs {
		if attr.Key == "target" && attr.Val == "_blank" {
			return true
		}
	}
	return false
}
