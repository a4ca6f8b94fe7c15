package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabaseDriver    string
	DatabaseDSN       string
	SessionSecret     string
	GinMode           string
	AppEnv            string
	LogLevel          string
	UploadDir         string
	UploadURLPath     string
	SuperRootUserName string
	SuperRootPassword string
	SiteBaseURL       string
	UnsubscribeSecret string
	SettingsSecret    string
	HeroVariantWidth  int
	RedisLockURL      string
}

// fileConfig mirrors AppConfig for the optional YAML file named by CONFIG_FILE.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       string `yaml:"port"`
	Database   struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	SessionSecret string `yaml:"session_secret"`
	GinMode       string `yaml:"gin_mode"`
	Env           string `yaml:"env"`
	LogLevel      string `yaml:"log_level"`
	Upload        struct {
		Dir     string `yaml:"dir"`
		URLPath string `yaml:"url_path"`
	} `yaml:"upload"`
	SiteBaseURL       string `yaml:"site_base_url"`
	UnsubscribeSecret string `yaml:"unsubscribe_secret"`
	SettingsSecret    string `yaml:"settings_secret"`
	HeroVariantWidth  int    `yaml:"hero_variant_width"`
	RedisLockURL      string `yaml:"redis_lock_url"`
}

// Load 读取 CONFIG_FILE 指向的 YAML（可选），再以环境变量覆盖，并为缺失项提供默认值。
func Load() (AppConfig, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	port := pick("PORT", file.Port, "8080")
	listenAddr := pick("LISTEN_ADDR", file.ListenAddr, fmt.Sprintf(":%s", port))

	heroWidth := file.HeroVariantWidth
	if raw := strings.TrimSpace(os.Getenv("HERO_VARIANT_WIDTH")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid HERO_VARIANT_WIDTH %q: %w", raw, err)
		}
		heroWidth = parsed
	}
	if heroWidth <= 0 {
		heroWidth = 600
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabaseDriver:    strings.ToLower(pick("DATABASE_DRIVER", file.Database.Driver, "sqlite")),
		DatabaseDSN:       pick("DATABASE_DSN", file.Database.DSN, "stagepress.db"),
		SessionSecret:     pick("SESSION_SECRET", file.SessionSecret, "stagepress-dev-secret"),
		GinMode:           pick("GIN_MODE", file.GinMode, "release"),
		AppEnv:            pick("APP_ENV", file.Env, "production"),
		LogLevel:          pick("LOG_LEVEL", file.LogLevel, "info"),
		UploadDir:         pick("UPLOAD_DIR", file.Upload.Dir, "web/static/uploads"),
		UploadURLPath:     pick("UPLOAD_URL_PATH", file.Upload.URLPath, "/static/uploads"),
		SuperRootUserName: strings.TrimSpace(os.Getenv("SUPER_ROOT_USER_NAME")),
		SuperRootPassword: strings.TrimSpace(os.Getenv("SUPER_ROOT_PASSWORD")),
		SiteBaseURL:       strings.TrimRight(pick("SITE_BASE_URL", file.SiteBaseURL, "http://localhost:8080"), "/"),
		UnsubscribeSecret: pick("UNSUBSCRIBE_SECRET", file.UnsubscribeSecret, "stagepress-dev-unsubscribe"),
		SettingsSecret:    pick("SETTINGS_SECRET", file.SettingsSecret, "stagepress-dev-settings"),
		HeroVariantWidth:  heroWidth,
		RedisLockURL:      pick("PUBLISH_LOCK_REDIS_URL", file.RedisLockURL, ""),
	}, nil
}

// pick 按 环境变量 > 配置文件 > 默认值 的顺序取第一个非空值。
func pick(envKey, fromFile, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
		return value
	}
	if value := strings.TrimSpace(fromFile); value != "" {
		return value
	}
	return fallback
}
