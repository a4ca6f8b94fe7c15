package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsID 是设置单例行的固定主键。
const SettingsID = 1

const (
	SMTPTLSStartTLS = "starttls"
	SMTPTLSImplicit = "tls"
	SMTPTLSNone     = "none"
)

const (
	// ConnectionLossReconnect 在批量发送中途断线时重连并继续。
	ConnectionLossReconnect = "reconnect-and-continue"
	// ConnectionLossAbort 在批量发送中途断线时放弃剩余收件人。
	ConnectionLossAbort = "abort-on-connection-loss"
)

// Settings 存储站点级单例配置。
// 富文本块采用与 Post 相同的 草稿/已发布 成对字段；其余字段直接生效。
type Settings struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	AboutHTML                string  `gorm:"type:text"`
	AboutHTMLDraft           *string `gorm:"type:text"`
	FooterHTML               string  `gorm:"type:text"`
	FooterHTMLDraft          *string `gorm:"type:text"`
	NewsletterIntroHTML      string  `gorm:"type:text"`
	NewsletterIntroHTMLDraft *string `gorm:"type:text"`
	SidebarHTML              string  `gorm:"type:text"`
	SidebarHTMLDraft         *string `gorm:"type:text"`

	SiteTitle  string
	AuthorName string

	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPasswordEnc string `gorm:"type:text" json:"-"`
	SMTPTLS         string `gorm:"column:smtp_tls;size:20"`
	MailFrom        string
	MailFromName    string

	RateLimit            int
	RatePeriodSeconds    int
	SendDelayMillis      int
	ConnectionLossPolicy string `gorm:"size:40"`

	NotifyOnPublish bool
	EmailFullPost   bool
}

// TableName 自定义表名以保持命名一致。
func (Settings) TableName() string {
	return "settings"
}

func defaultSettings() Settings {
	return Settings{
		ID:                   SettingsID,
		SiteTitle:            "StagePress",
		SMTPPort:             587,
		SMTPTLS:              SMTPTLSStartTLS,
		ConnectionLossPolicy: ConnectionLossReconnect,
	}
}

// EnsureSettings 在单例不存在时插入默认行，已存在则不做任何修改。
func EnsureSettings(gdb *gorm.DB) error {
	defaults := defaultSettings()
	return gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
}

// LoadSettings 读取设置单例。行被误删时补回默认值，正常读取路径不写库。
func LoadSettings(gdb *gorm.DB) (*Settings, error) {
	var settings Settings
	err := gdb.First(&settings, SettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := EnsureSettings(gdb); err != nil {
			return nil, err
		}
		err = gdb.First(&settings, SettingsID).Error
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
