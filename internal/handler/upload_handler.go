package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UploadImage 处理首图/图库图片上传，返回原图与定宽版本地址
func (a *API) UploadImage(c *gin.Context) {
	if a.images == nil {
		respondError(c, http.StatusServiceUnavailable, "上传未启用")
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, "未找到上传的图片")
		return
	}
	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		respondError(c, http.StatusBadRequest, "只允许上传图片文件")
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "读取上传文件失败")
		return
	}
	defer src.Close()

	stored, err := a.images.Save(file.Filename, src)
	if err != nil {
		if stored == nil {
			a.respondServiceError(c, err, "保存文件失败")
			return
		}
		// 原图已保存，仅定宽版本失败
		a.logger.Warn("hero variant failed", zap.String("url", stored.URL), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"image": stored})
}
