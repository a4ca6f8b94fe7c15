package router

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/handler"
	"github.com/stagepress/internal/metrics"
	"github.com/stagepress/internal/middleware"
	"github.com/stagepress/internal/service"
	"github.com/stagepress/internal/token"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestAPI(t *testing.T) *handler.API {
	t.Helper()
	dsn := fmt.Sprintf("file:router-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	tokens, err := token.NewService("router-test-secret")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return handler.NewAPI(gdb, handler.Options{
		Subscribers: service.NewSubscriberService(gdb),
		Tokens:      tokens,
	})
}

func TestSetupRouterServesUploads(t *testing.T) {
	gin.SetMode(gin.TestMode)

	uploadDir := t.TempDir()
	fileName := "example.txt"
	fileContent := []byte("hello uploads")
	if err := os.WriteFile(filepath.Join(uploadDir, fileName), fileContent, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	r := SetupRouter(newTestAPI(t), Options{SessionSecret: "test-secret", UploadDir: uploadDir, UploadURLPath: "/uploads"})

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+fileName, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.String() != string(fileContent) {
		t.Fatalf("unexpected body, got %q", rr.Body.String())
	}
}

func TestAdminAPIRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(newTestAPI(t), Options{SessionSecret: "test-secret"})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/admin/api/posts/1/publish"},
		{http.MethodPost, "/admin/api/posts/1/notify"},
		{http.MethodGet, "/admin/api/settings"},
		{http.MethodGet, "/admin/api/subscribers"},
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(route.method, route.path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rr.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.NewDispatch(reg).Observe("", 1, 0, time.Millisecond)

	r := SetupRouter(newTestAPI(t), Options{SessionSecret: "test-secret", Gatherer: reg})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "stagepress_notify_dispatch_total") {
		t.Fatalf("expected dispatch counter in output, got %s", rr.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(newTestAPI(t), Options{SessionSecret: "test-secret"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"database":"up"`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
	for _, want := range []string{`"settings":"ok"`, `"mail":"unconfigured"`} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("expected %s in %s", want, rr.Body.String())
		}
	}
}

func TestHealthCheckReportsMissingSettings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := newTestAPI(t)
	r := SetupRouter(api, Options{SessionSecret: "test-secret"})

	if err := api.DB().Delete(&db.Settings{}, db.SettingsID).Error; err != nil {
		t.Fatalf("delete settings: %v", err)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"settings":"unreadable"`) {
		t.Fatalf("expected 503 with unreadable settings, got %d %s", rr.Code, rr.Body.String())
	}

	var count int64
	api.DB().Model(&db.Settings{}).Count(&count)
	if count != 0 {
		t.Fatal("expected health check to leave the missing row alone")
	}
}

func TestPublicEndpointsAreRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(newTestAPI(t), Options{
		SessionSecret: "test-secret",
		PublicLimiter: middleware.NewIPRateLimiter(1, 2),
	})

	codes := make([]int, 0, 3)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		req := httptest.NewRequest(http.MethodPost, "/subscribe", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.10:5555"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200, 200, 429, got %v", codes)
	}

	// 管理后台不受公开限流影响
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/api/settings", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected admin route to skip the limiter, got %d", rr.Code)
	}
}

func TestUnsubscribeLinkOnlyShowsConfirmation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := newTestAPI(t)
	r := SetupRouter(api, Options{SessionSecret: "test-secret"})

	sub := db.Subscriber{Email: "reader@example.com", IsActive: true, SubscribedAt: time.Now()}
	if err := api.DB().Create(&sub).Error; err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	tokens, _ := token.NewService("router-test-secret")
	tok, err := tokens.Generate(sub.Email)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+tok, nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<form") {
		t.Fatalf("expected confirm page, got %d %s", rr.Code, rr.Body.String())
	}

	var reloaded db.Subscriber
	api.DB().First(&reloaded, sub.ID)
	if !reloaded.IsActive {
		t.Fatal("expected GET to leave subscriber active")
	}
}
