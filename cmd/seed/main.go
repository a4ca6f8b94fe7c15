package main

import (
	"context"
	"fmt"
	"log"

	"github.com/stagepress/internal/config"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/sanitize"
	"github.com/stagepress/internal/service"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type seedSummary struct {
	Posts       int
	Published   int
	Subscribers int
	Archived    int
}

var demoSubscribers = []string{
	"reader.one@example.com",
	"reader.two@example.com",
	"reader.three@example.com",
	"former.reader@example.com",
}

// 演示数据生成器：文章、订阅者与站点设置草稿，方便本地联调通知发送
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("读取配置失败:", err)
	}
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseDSN, gormlogger.Default.LogMode(gormlogger.Silent)); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")
	summary, err := seed(context.Background(), db.DB)
	if err != nil {
		log.Fatal("生成演示数据失败:", err)
	}
	fmt.Printf("✅ 文章 %d 篇（已发布 %d 篇），订阅者 %d 位（已归档 %d 位）\n",
		summary.Posts, summary.Published, summary.Subscribers, summary.Archived)
}

func seed(ctx context.Context, gdb *gorm.DB) (seedSummary, error) {
	var summary seedSummary

	var count int64
	if err := gdb.Model(&db.Post{}).Count(&count).Error; err != nil {
		return summary, err
	}
	if count > 0 {
		fmt.Println("文章已存在，跳过创建")
		return summary, nil
	}

	staging := service.NewStagingService(gdb, sanitize.New(), nil)
	publisher := service.NewPublishService(gdb, nil, nil, nil)
	subscribers := service.NewSubscriberService(gdb)

	posts := []struct {
		title   string
		body    string
		publish bool
	}{
		{
			title:   "Hello from StagePress",
			body:    "## First issue\n\nDrafts stay private until you publish. Read more on the [about page](/about).",
			publish: true,
		},
		{
			title:   "Notes on rate limits",
			body:    "SMTP providers throttle bursts, so sends are paced inside a fixed window.\n\n- one connection per batch\n- a short pause between messages",
			publish: true,
		},
		{
			title: "Work in progress",
			body:  "This post only has staged fields.",
		},
	}

	for _, p := range posts {
		title, body := p.title, p.body
		post, err := staging.CreatePost(service.PostDraftInput{
			Title:      &title,
			Body:       &body,
			BodyFormat: service.BodyFormatMarkdown,
		})
		if err != nil {
			return summary, err
		}
		summary.Posts++
		if !p.publish {
			continue
		}
		if _, err := publisher.PromotePost(ctx, post.ID); err != nil {
			return summary, err
		}
		summary.Published++
	}

	for i, email := range demoSubscribers {
		sub, err := subscribers.Subscribe(email)
		if err != nil {
			return summary, err
		}
		summary.Subscribers++
		if i == len(demoSubscribers)-1 {
			if _, err := subscribers.Archive(sub.ID); err != nil {
				return summary, err
			}
			summary.Archived++
		}
	}

	intro := "<p>Thanks for reading. New posts arrive here first.</p>"
	if _, err := staging.StageSettings(service.SettingsDraftInput{NewsletterIntroHTML: &intro}); err != nil {
		return summary, err
	}
	if _, err := publisher.PromoteSettings(ctx); err != nil {
		return summary, err
	}

	return summary, nil
}
