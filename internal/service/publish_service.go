package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/lock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPromotionFailed   = errors.New("promotion write failed")
	ErrExcerptRefresh    = errors.New("excerpt refresh failed")
	ErrPublishInProgress = errors.New("publish already in progress for this post")
	ErrNotifierMissing   = errors.New("notifications are not configured")
)

const publishLockTTL = 30 * time.Minute

// PromoteResult describes a committed post promotion.
type PromoteResult struct {
	Post             *db.Post
	FirstPublication bool
	// ExcerptErr is set when the follow-up excerpt write failed. The
	// promotion itself is still committed.
	ExcerptErr error
}

// PublishResult 汇总一次发布及其触发的通知结果。
type PublishResult struct {
	PromoteResult
	Notification *DispatchResult
}

// Notifier sends the new-post notification for a published post.
type Notifier interface {
	Dispatch(ctx context.Context, postID uint) (*DispatchResult, error)
}

// PublishService promotes staged content to its live form.
type PublishService struct {
	db       *gorm.DB
	notifier Notifier
	locker   lock.Locker
	logger   *zap.Logger
	now      func() time.Time

	// writeExcerpt persists the recomputed excerpt; swapped in tests.
	writeExcerpt func(ctx context.Context, postID uint, excerpt string) error
}

// NewPublishService creates a PublishService. notifier and locker may be nil.
func NewPublishService(gdb *gorm.DB, notifier Notifier, locker lock.Locker, logger *zap.Logger) *PublishService {
	if locker == nil {
		locker = lock.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PublishService{db: gdb, notifier: notifier, locker: locker, logger: logger, now: time.Now}
	s.writeExcerpt = s.updateExcerpt
	return s
}

// PromotePost merges every staged field over its published counterpart in
// one transaction, marks the post published and stamps published_at only
// when it is still unset. The excerpt is refreshed afterwards on a best
// effort basis.
func (s *PublishService) PromotePost(ctx context.Context, id uint) (*PromoteResult, error) {
	var (
		post  db.Post
		first bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return err
		}

		first = post.PublishedAt == nil
		updates := promote(&post, postFields)
		updates["status"] = db.PostStatusPublished
		updates["published_at"] = gorm.Expr("COALESCE(published_at, ?)", s.now())

		if err := tx.Model(&post).Updates(updates).Error; err != nil {
			return err
		}
		// 重新读取以拿到数据库中实际的 published_at
		return tx.First(&post, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		s.logger.Error("post promotion failed", zap.Uint("post_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	result := &PromoteResult{Post: &post, FirstPublication: first}

	excerpt := BuildExcerpt(post.Body)
	if err := s.writeExcerpt(ctx, post.ID, excerpt); err != nil {
		s.logger.Warn("excerpt refresh failed", zap.Uint("post_id", post.ID), zap.Error(err))
		result.ExcerptErr = fmt.Errorf("%w: %v", ErrExcerptRefresh, err)
	} else {
		post.Excerpt = excerpt
	}

	s.logger.Info("post promoted",
		zap.Uint("post_id", post.ID),
		zap.Bool("first_publication", first),
	)
	return result, nil
}

func (s *PublishService) updateExcerpt(ctx context.Context, postID uint, excerpt string) error {
	return s.db.WithContext(ctx).Model(&db.Post{}).Where("id = ?", postID).UpdateColumn("excerpt", excerpt).Error
}

// PromoteSettings merges the staged settings blocks. A block staged as ""
// clears the live value; only blocks never staged keep their live value.
func (s *PublishService) PromoteSettings(ctx context.Context) (*db.Settings, error) {
	if _, err := db.LoadSettings(s.db.WithContext(ctx)); err != nil {
		return nil, err
	}

	var settings db.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&settings, db.SettingsID).Error; err != nil {
			return err
		}
		return tx.Model(&settings).Updates(promote(&settings, settingsFields)).Error
	})
	if err != nil {
		s.logger.Error("settings promotion failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}
	return &settings, nil
}

// Unpublish returns a post to draft and clears published_at.
func (s *PublishService) Unpublish(ctx context.Context, id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&post).Updates(map[string]interface{}{
		"status":       db.PostStatusDraft,
		"published_at": nil,
	}).Error; err != nil {
		return nil, err
	}
	post.Status = db.PostStatusDraft
	post.PublishedAt = nil
	return &post, nil
}

// Publish 是发布入口：加锁、提升草稿，首次发布且开启通知时同步发送邮件。
func (s *PublishService) Publish(ctx context.Context, id uint) (*PublishResult, error) {
	release, err := s.locker.Acquire(ctx, publishLockKey(id), publishLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, ErrPublishInProgress
		}
		return nil, err
	}
	defer release()

	promoted, err := s.PromotePost(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &PublishResult{PromoteResult: *promoted}

	if !promoted.FirstPublication || s.notifier == nil {
		return result, nil
	}
	settings, err := db.LoadSettings(s.db.WithContext(ctx))
	if err != nil {
		s.logger.Warn("load settings for notification", zap.Uint("post_id", id), zap.Error(err))
		return result, nil
	}
	if !settings.NotifyOnPublish {
		return result, nil
	}

	notification, err := s.notifier.Dispatch(ctx, id)
	if err != nil {
		s.logger.Error("notification dispatch failed", zap.Uint("post_id", id), zap.Error(err))
		return result, nil
	}
	result.Notification = notification
	return result, nil
}

// Notify re-sends the notification for a published post ("send again").
func (s *PublishService) Notify(ctx context.Context, id uint) (*DispatchResult, error) {
	if s.notifier == nil {
		return nil, ErrNotifierMissing
	}
	release, err := s.locker.Acquire(ctx, publishLockKey(id), publishLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, ErrPublishInProgress
		}
		return nil, err
	}
	defer release()
	return s.notifier.Dispatch(ctx, id)
}

func publishLockKey(id uint) string {
	return fmt.Sprintf("publish:%d", id)
}
