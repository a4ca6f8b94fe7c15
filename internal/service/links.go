package service

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// SiteLinks 负责生成邮件中使用的绝对地址。
type SiteLinks struct {
	BaseURL       string
	UploadDir     string
	UploadURLPath string
	HeroWidth     int
}

// Absolute resolves ref against the site base URL. Absolute URLs, fragments
// and non-http schemes are returned unchanged.
func (l SiteLinks) Absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || l.BaseURL == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() || parsed.Host != "" {
		return ref
	}
	base, err := url.Parse(strings.TrimRight(l.BaseURL, "/") + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func (l SiteLinks) PostURL(id uint) string {
	return l.Absolute(fmt.Sprintf("/posts/%d", id))
}

func (l SiteLinks) UnsubscribeURL(token string) string {
	return l.Absolute("/unsubscribe?token=" + url.QueryEscape(token))
}

// HeroVariant 返回首图的定宽版本地址（name-<w>w.ext）；版本文件不存在时返回原图。
func (l SiteLinks) HeroVariant(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if l.HeroWidth <= 0 || l.UploadDir == "" {
		return l.Absolute(ref)
	}

	prefix := strings.TrimRight(l.UploadURLPath, "/") + "/"
	if !strings.HasPrefix(ref, prefix) {
		return l.Absolute(ref)
	}
	variant := variantName(strings.TrimPrefix(ref, prefix), l.HeroWidth)

	if _, err := os.Stat(filepath.Join(l.UploadDir, filepath.FromSlash(variant))); err != nil {
		return l.Absolute(ref)
	}
	return l.Absolute(prefix + variant)
}

// AbsolutizeHTML rewrites relative href and src attributes in fragment.
func (l SiteLinks) AbsolutizeHTML(fragment string) string {
	if fragment == "" || l.BaseURL == "" {
		return fragment
	}

	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out.String()
		}
		raw := string(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.WriteString(raw)
			continue
		}

		tok := z.Token()
		changed := false
		for i, attr := range tok.Attr {
			if attr.Key != "href" && attr.Key != "src" {
				continue
			}
			if abs := l.Absolute(attr.Val); abs != attr.Val {
				tok.Attr[i].Val = abs
				changed = true
			}
		}
		if changed {
			out.WriteString(tok.String())
		} else {
			out.WriteString(raw)
		}
	}
}
