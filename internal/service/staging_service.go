package service

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/secret"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrInvalidFormat   = errors.New("unsupported body format")
	ErrInvalidSMTPPort = errors.New("smtp port is out of range")
	ErrInvalidPolicy   = errors.New("unknown connection loss policy")
)

const (
	BodyFormatHTML     = "html"
	BodyFormatMarkdown = "markdown"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
	goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
)

// Sanitizer cleans author supplied HTML before it is staged.
type Sanitizer interface {
	Sanitize(input string) string
}

// PostDraftInput carries staged post fields. A nil field leaves the draft
// column untouched; a pointer to "" stages an explicit empty value.
type PostDraftInput struct {
	Title       *string
	Body        *string
	BodyFormat  string
	HeroImage   *string
	HeroOptions *db.HeroDisplay
	Gallery     *[]string
	UserID      uint
}

// SettingsDraftInput carries staged settings blocks.
type SettingsDraftInput struct {
	AboutHTML           *string
	FooterHTML          *string
	NewsletterIntroHTML *string
	SidebarHTML         *string
}

// MailSettingsInput updates the non-staged settings that take effect immediately.
type MailSettingsInput struct {
	SiteTitle            string
	AuthorName           string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	SMTPTLS              string
	MailFrom             string
	MailFromName         string
	RateLimit            int
	RatePeriodSeconds    int
	SendDelayMillis      int
	ConnectionLossPolicy string
	NotifyOnPublish      bool
	EmailFullPost        bool
}

// StagingService 管理文章与站点设置的草稿字段，只写 *_draft 列。
type StagingService struct {
	db        *gorm.DB
	sanitizer Sanitizer
	box       *secret.Box
}

// NewStagingService creates a StagingService. box may be nil when no
// settings secret is configured; storing an SMTP password then fails.
func NewStagingService(gdb *gorm.DB, sanitizer Sanitizer, box *secret.Box) *StagingService {
	return &StagingService{db: gdb, sanitizer: sanitizer, box: box}
}

// CreatePost persists a new draft post holding only staged fields.
func (s *StagingService) CreatePost(input PostDraftInput) (*db.Post, error) {
	post := db.Post{Status: db.PostStatusDraft, UserID: input.UserID}
	if err := s.applyPostDraft(&post, input); err != nil {
		return nil, err
	}
	if err := s.db.Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// StagePost writes the supplied draft fields of an existing post.
func (s *StagingService) StagePost(id uint, input PostDraftInput) (*db.Post, error) {
	post, err := s.GetPost(id)
	if err != nil {
		return nil, err
	}

	staged := db.Post{}
	if err := s.applyPostDraft(&staged, input); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		updates["title_draft"] = *staged.TitleDraft
	}
	if input.Body != nil {
		updates["body_draft"] = *staged.BodyDraft
	}
	if input.HeroImage != nil {
		updates["hero_image_draft"] = *staged.HeroImageDraft
	}
	if input.HeroOptions != nil {
		updates["hero_options_draft"] = *staged.HeroOptionsDraft
	}
	if input.Gallery != nil {
		updates["gallery_draft"] = *staged.GalleryDraft
	}
	if len(updates) == 0 {
		return post, nil
	}

	if err := s.db.Model(post).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("stage post %d: %w", id, err)
	}
	return s.GetPost(id)
}

func (s *StagingService) applyPostDraft(post *db.Post, input PostDraftInput) error {
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		post.TitleDraft = &title
	}
	if input.Body != nil {
		body, err := s.renderBody(*input.Body, input.BodyFormat)
		if err != nil {
			return err
		}
		post.BodyDraft = &body
	}
	if input.HeroImage != nil {
		hero := strings.TrimSpace(*input.HeroImage)
		post.HeroImageDraft = &hero
	}
	if input.HeroOptions != nil {
		options := encodeHeroDisplay(*input.HeroOptions)
		post.HeroOptionsDraft = &options
	}
	if input.Gallery != nil {
		gallery := db.EncodeGallery(*input.Gallery)
		post.GalleryDraft = &gallery
	}
	return nil
}

// renderBody 将 Markdown 转为 HTML 后统一过滤；空字符串原样保留，用于清空正文。
func (s *StagingService) renderBody(body, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", BodyFormatHTML:
	case BodyFormatMarkdown:
		if body != "" {
			var buf bytes.Buffer
			if err := markdownEngine.Convert([]byte(body), &buf); err != nil {
				return "", fmt.Errorf("render markdown: %w", err)
			}
			body = buf.String()
		}
	default:
		return "", ErrInvalidFormat
	}
	return s.sanitize(body), nil
}

func (s *StagingService) sanitize(input string) string {
	if s.sanitizer == nil {
		return input
	}
	return s.sanitizer.Sanitize(input)
}

// GetPost fetches a live (not soft-deleted) post.
func (s *StagingService) GetPost(id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// DeletePost soft deletes a post. Deleted posts are invisible to every
// later read, so the transition is terminal.
func (s *StagingService) DeletePost(id uint) error {
	result := s.db.Delete(&db.Post{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

// GetSettings returns the singleton settings row.
func (s *StagingService) GetSettings() (*db.Settings, error) {
	return db.LoadSettings(s.db)
}

// StageSettings writes the supplied settings blocks to their draft columns.
func (s *StagingService) StageSettings(input SettingsDraftInput) (*db.Settings, error) {
	if _, err := db.LoadSettings(s.db); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	stage := func(column string, value *string) {
		if value != nil {
			updates[column] = s.sanitize(*value)
		}
	}
	stage("about_html_draft", input.AboutHTML)
	stage("footer_html_draft", input.FooterHTML)
	stage("newsletter_intro_html_draft", input.NewsletterIntroHTML)
	stage("sidebar_html_draft", input.SidebarHTML)

	if len(updates) > 0 {
		if err := s.db.Model(&db.Settings{ID: db.SettingsID}).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("stage settings: %w", err)
		}
	}
	return db.LoadSettings(s.db)
}

// UpdateMailSettings 保存发信与限流配置。密码加密后入库，留空则保留原密码。
func (s *StagingService) UpdateMailSettings(input MailSettingsInput) (*db.Settings, error) {
	if input.SMTPPort < 0 || input.SMTPPort > 65535 {
		return nil, ErrInvalidSMTPPort
	}
	policy := strings.TrimSpace(input.ConnectionLossPolicy)
	switch policy {
	case "":
		policy = db.ConnectionLossReconnect
	case db.ConnectionLossReconnect, db.ConnectionLossAbort:
	default:
		return nil, ErrInvalidPolicy
	}
	tlsMode := strings.ToLower(strings.TrimSpace(input.SMTPTLS))
	if tlsMode == "" {
		tlsMode = db.SMTPTLSStartTLS
	}

	if _, err := db.LoadSettings(s.db); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"site_title":             strings.TrimSpace(input.SiteTitle),
		"author_name":            strings.TrimSpace(input.AuthorName),
		"smtp_host":              strings.TrimSpace(input.SMTPHost),
		"smtp_port":              input.SMTPPort,
		"smtp_username":          strings.TrimSpace(input.SMTPUsername),
		"smtp_tls":               tlsMode,
		"mail_from":              strings.TrimSpace(input.MailFrom),
		"mail_from_name":         strings.TrimSpace(input.MailFromName),
		"rate_limit":             clampNonNegative(input.RateLimit),
		"rate_period_seconds":    clampNonNegative(input.RatePeriodSeconds),
		"send_delay_millis":      clampNonNegative(input.SendDelayMillis),
		"connection_loss_policy": policy,
		"notify_on_publish":      input.NotifyOnPublish,
		"email_full_post":        input.EmailFullPost,
	}

	if input.SMTPPassword != "" {
		if s.box == nil {
			return nil, secret.ErrSecretKeyMissing
		}
		sealed, err := s.box.Seal(input.SMTPPassword)
		if err != nil {
			return nil, err
		}
		updates["smtp_password_enc"] = sealed
	}

	if err := s.db.Model(&db.Settings{ID: db.SettingsID}).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update mail settings: %w", err)
	}
	return db.LoadSettings(s.db)
}

// MailPassword decrypts the stored SMTP password.
func (s *StagingService) MailPassword(settings *db.Settings) (string, error) {
	if settings == nil || settings.SMTPPasswordEnc == "" {
		return "", nil
	}
	if s.box == nil {
		return "", secret.ErrSecretKeyMissing
	}
	return s.box.Open(settings.SMTPPasswordEnc)
}

func encodeHeroDisplay(display db.HeroDisplay) string {
	display.Alt = strings.TrimSpace(display.Alt)
	display.Caption = strings.TrimSpace(display.Caption)
	if display == (db.HeroDisplay{}) {
		return ""
	}
	return display.Encode()
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
