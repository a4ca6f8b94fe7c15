package db

import "time"

// Subscriber 是邮件列表中的一个收件人。归档只翻转 IsActive，从不物理删除。
type Subscriber struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	IsActive     bool      `gorm:"not null;index" json:"isActive"`
	SubscribedAt time.Time `json:"subscribedAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定自定义表名。
func (Subscriber) TableName() string {
	return "subscribers"
}
