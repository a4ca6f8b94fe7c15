package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stagepress/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seed-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return gdb
}

func TestSeedCreatesDemoContent(t *testing.T) {
	gdb := setupSeedTestDB(t)

	summary, err := seed(context.Background(), gdb)
	if err != nil {
		t.Fatalf("seed returned error: %v", err)
	}
	if summary.Posts != 3 || summary.Published != 2 {
		t.Fatalf("unexpected post summary %+v", summary)
	}
	if summary.Subscribers != len(demoSubscribers) || summary.Archived != 1 {
		t.Fatalf("unexpected subscriber summary %+v", summary)
	}

	var published []db.Post
	if err := gdb.Where("status = ?", db.PostStatusPublished).Find(&published).Error; err != nil {
		t.Fatalf("list published: %v", err)
	}
	for _, post := range published {
		if post.PublishedAt == nil || post.Excerpt == "" {
			t.Fatalf("expected published_at and excerpt on post %d", post.ID)
		}
	}

	var active int64
	gdb.Model(&db.Subscriber{}).Where("is_active = ?", true).Count(&active)
	if active != int64(len(demoSubscribers)-1) {
		t.Fatalf("expected %d active subscribers, got %d", len(demoSubscribers)-1, active)
	}

	settings, err := db.LoadSettings(gdb)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.NewsletterIntroHTML == "" {
		t.Fatal("expected newsletter intro to be published")
	}
}

func TestSeedSkipsWhenPostsExist(t *testing.T) {
	gdb := setupSeedTestDB(t)
	if _, err := seed(context.Background(), gdb); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	summary, err := seed(context.Background(), gdb)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if summary.Posts != 0 {
		t.Fatalf("expected second run to skip, got %+v", summary)
	}
}
