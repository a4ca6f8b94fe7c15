package service

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

const excerptMaxRunes = 280

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "figure": true, "figcaption": true, "pre": true, "hr": true,
}

// htmlToText flattens an HTML fragment into readable plain text: block
// elements become line breaks and link targets are kept in parentheses.
func htmlToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	var out strings.Builder
	var hrefs []string
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidyLines(out.String())
		case html.TextToken:
			out.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if blockElements[tok.Data] {
				out.WriteString("\n")
			}
			if tok.Data == "a" {
				hrefs = append(hrefs, attrValue(tok.Attr, "href"))
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "a" && len(hrefs) > 0 {
				href := hrefs[len(hrefs)-1]
				hrefs = hrefs[:len(hrefs)-1]
				if href != "" && !strings.HasPrefix(href, "#") {
					out.WriteString(" (" + href + ")")
				}
			}
			if blockElements[tok.Data] {
				out.WriteString("\n")
			}
		}
	}
}

func tidyLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			kept = append(kept, collapsed)
		}
	}
	return strings.Join(kept, "\n\n")
}

// BuildExcerpt 从已发布正文生成纯文本摘要，超长时在词边界截断。
func BuildExcerpt(body string) string {
	text := strings.Join(strings.Fields(htmlToText(body)), " ")
	runes := []rune(text)
	if len(runes) <= excerptMaxRunes {
		return text
	}

	cut := excerptMaxRunes
	for i := excerptMaxRunes; i > excerptMaxRunes*3/4; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + "…"
}

func attrValue(attrs []html.Attribute, key string) string {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
