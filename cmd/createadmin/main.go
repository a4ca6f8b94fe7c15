package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/stagepress/internal/config"
	"github.com/stagepress/internal/db"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	username := flag.String("username", "admin", "admin username")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (or ADMIN_PASSWORD)")
	flag.Parse()

	if *password == "" {
		log.Fatal("密码不能为空：请使用 -password 或设置 ADMIN_PASSWORD")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("读取配置失败:", err)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseDSN, gormlogger.Default.LogMode(gormlogger.Silent)); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	created, err := db.EnsureUser(db.DB, *username, *password)
	if err != nil {
		log.Fatal("创建用户失败:", err)
	}
	if !created {
		fmt.Println("用户已存在，无需初始化")
		return
	}
	fmt.Printf("管理员用户 %s 创建成功\n", *username)
}
