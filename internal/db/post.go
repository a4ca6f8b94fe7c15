package db

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
)

// Post 定义了文章模型。
// 每个公开字段都有一个同形的 *Draft 暂存字段，NULL 表示从未暂存。
type Post struct {
	gorm.Model
	Title       string
	Body        string `gorm:"type:text"`
	HeroImage   string
	HeroOptions string `gorm:"type:text"`
	Gallery     string `gorm:"type:text"`

	TitleDraft       *string
	BodyDraft        *string `gorm:"type:text"`
	HeroImageDraft   *string
	HeroOptionsDraft *string `gorm:"type:text"`
	GalleryDraft     *string `gorm:"type:text"`

	Excerpt     string     `gorm:"type:text"`
	Status      string     `gorm:"size:20;not null;default:draft;index"`
	PublishedAt *time.Time `gorm:"index"`
	UserID      uint
}

// IsPublished reports whether the live fields are publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}

// HeroDisplay holds the hero display options stored as JSON on a post.
type HeroDisplay struct {
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
	Hidden  bool   `json:"hidden,omitempty"`
}

// ParseHeroDisplay decodes raw hero options; malformed input yields the zero value.
func ParseHeroDisplay(raw string) HeroDisplay {
	var display HeroDisplay
	if strings.TrimSpace(raw) == "" {
		return display
	}
	if err := json.Unmarshal([]byte(raw), &display); err != nil {
		return HeroDisplay{}
	}
	return display
}

// Encode serializes display options for storage.
func (d HeroDisplay) Encode() string {
	raw, _ := json.Marshal(d)
	return string(raw)
}

// EncodeGallery serializes gallery references in order.
func EncodeGallery(refs []string) string {
	cleaned := make([]string, 0, len(refs))
	for _, ref := range refs {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	raw, _ := json.Marshal(cleaned)
	return string(raw)
}

// DecodeGallery is the inverse of EncodeGallery.
func DecodeGallery(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil
	}
	return refs
}
