package service

import "github.com/stagepress/internal/db"

// mergeRule decides the published value from a draft/published pair.
type mergeRule func(draft *string, published string) string

// firstNonNull promotes any staged value, including "", and keeps the
// published value only when nothing was staged.
func firstNonNull(draft *string, published string) string {
	if draft != nil {
		return *draft
	}
	return published
}

// stagedField binds one draft/published column pair of T.
type stagedField[T any] struct {
	column    string
	draft     func(*T) *string
	published func(*T) *string
	merge     mergeRule
}

var postFields = []stagedField[db.Post]{
	{"title", func(p *db.Post) *string { return p.TitleDraft }, func(p *db.Post) *string { return &p.Title }, firstNonNull},
	{"body", func(p *db.Post) *string { return p.BodyDraft }, func(p *db.Post) *string { return &p.Body }, firstNonNull},
	{"hero_image", func(p *db.Post) *string { return p.HeroImageDraft }, func(p *db.Post) *string { return &p.HeroImage }, firstNonNull},
	{"hero_options", func(p *db.Post) *string { return p.HeroOptionsDraft }, func(p *db.Post) *string { return &p.HeroOptions }, firstNonNull},
	{"gallery", func(p *db.Post) *string { return p.GalleryDraft }, func(p *db.Post) *string { return &p.Gallery }, firstNonNull},
}

var settingsFields = []stagedField[db.Settings]{
	{"about_html", func(s *db.Settings) *string { return s.AboutHTMLDraft }, func(s *db.Settings) *string { return &s.AboutHTML }, firstNonNull},
	{"footer_html", func(s *db.Settings) *string { return s.FooterHTMLDraft }, func(s *db.Settings) *string { return &s.FooterHTML }, firstNonNull},
	{"newsletter_intro_html", func(s *db.Settings) *string { return s.NewsletterIntroHTMLDraft }, func(s *db.Settings) *string { return &s.NewsletterIntroHTML }, firstNonNull},
	{"sidebar_html", func(s *db.Settings) *string { return s.SidebarHTMLDraft }, func(s *db.Settings) *string { return &s.SidebarHTML }, firstNonNull},
}

// promote applies every field's rule to row in place and returns the
// column updates to persist.
func promote[T any](row *T, fields []stagedField[T]) map[string]interface{} {
	updates := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		target := f.published(row)
		*target = f.merge(f.draft(row), *target)
		updates[f.column] = *target
	}
	return updates
}
