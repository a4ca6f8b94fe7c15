package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRespondServiceErrorMapsWrappedSentinels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	api := NewAPI(nil, Options{Logger: zap.New(core)})

	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("publish 7: %w", service.ErrPostNotFound), http.StatusNotFound},
		{fmt.Errorf("stage: %w", service.ErrPublishInProgress), http.StatusConflict},
		{service.ErrImageTooLarge, http.StatusRequestEntityTooLarge},
		{service.ErrInvalidEmail, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		api.respondServiceError(c, tc.err, "操作失败")
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
	if logs.Len() != 0 {
		t.Fatalf("expected known errors to skip logging, got %d entries", logs.Len())
	}

	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	api.respondServiceError(c, errors.New("disk full"), "保存文件失败", zap.Uint("post_id", 3))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown error, got %d", rr.Code)
	}
	entries := logs.FilterMessage("保存文件失败").All()
	if len(entries) != 1 || entries[0].ContextMap()["post_id"] != uint64(3) {
		t.Fatalf("expected fallback log with post_id, got %+v", entries)
	}
}

func TestPathIDRejectsZeroAndGarbage(t *testing.T) {
	f := setupHandlerFixture(t)
	f.login(t)

	for _, path := range []string{"/admin/api/posts/0", "/admin/api/posts/-1", "/admin/api/posts/1x"} {
		rr := f.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
		if msg := decodeBody(t, rr)["error"]; msg != "无效的文章ID" {
			t.Fatalf("%s: unexpected message %v", path, msg)
		}
	}
	rr := f.do(t, http.MethodPost, "/admin/api/subscribers/0/archive", nil)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error"] != "无效的订阅者ID" {
		t.Fatalf("expected subscriber id rejection, got %d %s", rr.Code, rr.Body.String())
	}
}
