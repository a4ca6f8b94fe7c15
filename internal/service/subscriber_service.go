package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/stagepress/internal/db"
	"gorm.io/gorm"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrInvalidEmail       = errors.New("invalid email address")
)

const (
	SubscriberFilterActive   = "active"
	SubscriberFilterArchived = "archived"
)

// SubscriberFilter narrows the admin subscriber list.
type SubscriberFilter struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// SubscriberListResult aggregates paginated list data and counters.
type SubscriberListResult struct {
	Subscribers []db.Subscriber
	Total       int64
	TotalPages  int
	Page        int
	PerPage     int
}

// SubscriberCounts 汇总活跃与已归档订阅者数量。
type SubscriberCounts struct {
	Active   int64 `json:"active"`
	Archived int64 `json:"archived"`
}

// SubscriberService wraps subscriber list operations.
type SubscriberService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSubscriberService(gdb *gorm.DB) *SubscriberService {
	return &SubscriberService{db: gdb, now: time.Now}
}

// ListActive returns a snapshot of active subscribers in dispatch order.
func (s *SubscriberService) ListActive(ctx context.Context) ([]db.Subscriber, error) {
	var subscribers []db.Subscriber
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id asc").Find(&subscribers).Error; err != nil {
		return nil, err
	}
	return subscribers, nil
}

// List returns subscribers matching filter, newest first.
func (s *SubscriberService) List(filter SubscriberFilter) (*SubscriberListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.Model(&db.Subscriber{})
	switch filter.Status {
	case SubscriberFilterActive:
		query = query.Where("is_active = ?", true)
	case SubscriberFilterArchived:
		query = query.Where("is_active = ?", false)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("email LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var subscribers []db.Subscriber
	if err := query.Order("id desc").Offset((page - 1) * perPage).Limit(perPage).Find(&subscribers).Error; err != nil {
		return nil, err
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return &SubscriberListResult{
		Subscribers: subscribers,
		Total:       total,
		TotalPages:  totalPages,
		Page:        page,
		PerPage:     perPage,
	}, nil
}

// Subscribe 新增订阅者；已归档的同一地址会被重新激活，已激活的直接返回。
func (s *SubscriberService) Subscribe(email string) (*db.Subscriber, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	var existing db.Subscriber
	err = s.db.Where("email = ?", normalized).First(&existing).Error
	switch {
	case err == nil:
		if existing.IsActive {
			return &existing, nil
		}
		return s.setActive(existing.ID, true)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	subscriber := db.Subscriber{Email: normalized, IsActive: true, SubscribedAt: s.now()}
	if err := s.db.Create(&subscriber).Error; err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return &subscriber, nil
}

// Archive deactivates a subscriber without deleting it.
func (s *SubscriberService) Archive(id uint) (*db.Subscriber, error) {
	return s.setActive(id, false)
}

// Reactivate flips an archived subscriber back to active.
func (s *SubscriberService) Reactivate(id uint) (*db.Subscriber, error) {
	return s.setActive(id, true)
}

// ArchiveByEmail archives the subscriber with exactly this address.
func (s *SubscriberService) ArchiveByEmail(email string) error {
	var subscriber db.Subscriber
	if err := s.db.Where("email = ?", email).First(&subscriber).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriberNotFound
		}
		return err
	}
	if !subscriber.IsActive {
		return nil
	}
	_, err := s.setActive(subscriber.ID, false)
	return err
}

// Counts returns active and archived totals.
func (s *SubscriberService) Counts() (SubscriberCounts, error) {
	var counts SubscriberCounts
	if err := s.db.Model(&db.Subscriber{}).Where("is_active = ?", true).Count(&counts.Active).Error; err != nil {
		return counts, err
	}
	if err := s.db.Model(&db.Subscriber{}).Where("is_active = ?", false).Count(&counts.Archived).Error; err != nil {
		return counts, err
	}
	return counts, nil
}

func (s *SubscriberService) setActive(id uint, active bool) (*db.Subscriber, error) {
	var subscriber db.Subscriber
	if err := s.db.First(&subscriber, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriberNotFound
		}
		return nil, err
	}
	if err := s.db.Model(&subscriber).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	subscriber.IsActive = active
	return &subscriber, nil
}

// normalizeEmail only trims surrounding space; the stored address keeps its case.
func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > 320 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}
