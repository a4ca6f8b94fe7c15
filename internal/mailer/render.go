package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// NewsletterData is the fixed variable set of a new-post notification.
type NewsletterData struct {
	SiteTitle      string
	AuthorName     string
	PostTitle      string
	PostURL        string
	Excerpt        string
	Body           htmltemplate.HTML
	BodyText       string
	Intro          htmltemplate.HTML
	HeroImageURL   string
	HeroAlt        string
	HeroCaption    string
	UnsubscribeURL string
	// FullPost selects the full-body variant over the excerpt digest.
	FullPost bool
}

// Renderer 渲染新文章通知邮件的 HTML 与纯文本两个版本。
type Renderer struct {
	fullHTML    *htmltemplate.Template
	excerptHTML *htmltemplate.Template
	fullText    *texttemplate.Template
	excerptText *texttemplate.Template
}

// NewRenderer parses the built-in templates.
func NewRenderer() (*Renderer, error) {
	funcs := htmltemplate.FuncMap{"year": func() int { return time.Now().Year() }}
	textFuncs := texttemplate.FuncMap{"year": func() int { return time.Now().Year() }}

	r := &Renderer{}
	var err error
	if r.fullHTML, err = htmltemplate.New("full").Funcs(funcs).Parse(layoutHead + fullBodyTpl + layoutFoot); err != nil {
		return nil, fmt.Errorf("parse full template: %w", err)
	}
	if r.excerptHTML, err = htmltemplate.New("excerpt").Funcs(funcs).Parse(layoutHead + excerptBodyTpl + layoutFoot); err != nil {
		return nil, fmt.Errorf("parse excerpt template: %w", err)
	}
	if r.fullText, err = texttemplate.New("full-text").Funcs(textFuncs).Parse(fullTextTpl); err != nil {
		return nil, fmt.Errorf("parse full text template: %w", err)
	}
	if r.excerptText, err = texttemplate.New("excerpt-text").Funcs(textFuncs).Parse(excerptTextTpl); err != nil {
		return nil, fmt.Errorf("parse excerpt text template: %w", err)
	}
	return r, nil
}

// Render returns the HTML and plain-text bodies for data.
func (r *Renderer) Render(data NewsletterData) (string, string, error) {
	htmlTpl, textTpl := r.excerptHTML, r.excerptText
	if data.FullPost {
		htmlTpl, textTpl = r.fullHTML, r.fullText
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTpl.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("render html body: %w", err)
	}
	if err := textTpl.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("render text body: %w", err)
	}
	return htmlBuf.String(), strings.TrimSpace(textBuf.String()) + "\n", nil
}

// Subject 构造通知邮件标题。
func Subject(siteTitle, postTitle string) string {
	site := strings.TrimSpace(siteTitle)
	title := strings.TrimSpace(postTitle)
	switch {
	case site == "" && title == "":
		return "New post"
	case site == "":
		return title
	case title == "":
		return fmt.Sprintf("[%s] New post", site)
	}
	return fmt.Sprintf("[%s] %s", site, title)
}

const layoutHead = `<!DOCTYPE html>
<html>
<head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8" /></head>
<body style="background-color:#fff;margin:0 auto;font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica Neue,Arial,sans-serif;padding:.5rem">
<table align="center" width="100%" role="presentation" cellspacing="0" cellpadding="0" border="0" style="max-width:600px;margin:32px auto;padding:20px">
<tbody><tr><td>
{{if .Intro}}<div style="font-size:14px;color:#4b5563;margin-bottom:16px">{{.Intro}}</div>{{end}}
<p style="font-size:13px;color:#6b7280;margin:0 0 8px">{{if .AuthorName}}{{.AuthorName}} · {{end}}{{.SiteTitle}}</p>
<h1 style="font-size:22px;line-height:1.3;margin:0 0 16px"><a href="{{.PostURL}}" style="color:#111827;text-decoration:none">{{.PostTitle}}</a></h1>
{{if .HeroImageURL}}<figure style="margin:0 0 16px"><img src="{{.HeroImageURL}}" alt="{{.HeroAlt}}" style="display:block;width:100%;height:auto;border-radius:6px" />{{if .HeroCaption}}<figcaption style="font-size:12px;color:#6b7280;margin-top:6px">{{.HeroCaption}}</figcaption>{{end}}</figure>{{end}}
`

const fullBodyTpl = `<div style="font-size:15px;line-height:1.6;color:#111827">{{.Body}}</div>
`

const excerptBodyTpl = `<p style="font-size:15px;line-height:1.6;color:#111827">{{.Excerpt}}</p>
<p style="margin:24px 0"><a href="{{.PostURL}}" style="display:inline-block;padding:10px 18px;background-color:#111827;color:#fff;border-radius:4px;text-decoration:none;font-size:13px">Read the full post</a></p>
`

const layoutFoot = `<hr style="border:none;border-top:1px solid #e5e7eb;margin:28px 0 12px" />
<p style="font-size:11px;color:#9ca3af;text-align:center">You are receiving this because you subscribed to {{.SiteTitle}}.<br />
<a href="{{.UnsubscribeURL}}" style="color:#9ca3af">Unsubscribe</a> · ©{{year}} {{.SiteTitle}}</p>
</td></tr></tbody>
</table>
</body>
</html>`

const fullTextTpl = `{{.PostTitle}}
{{if .AuthorName}}by {{.AuthorName}} · {{end}}{{.SiteTitle}}

{{.BodyText}}

Read online: {{.PostURL}}

--
Unsubscribe: {{.UnsubscribeURL}}
`

const excerptTextTpl = `{{.PostTitle}}
{{if .AuthorName}}by {{.AuthorName}} · {{end}}{{.SiteTitle}}

{{.Excerpt}}

Read the full post: {{.PostURL}}

--
Unsubscribe: {{.UnsubscribeURL}}
`
