package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const maxImageBytes = 10 << 20

var (
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrImageTooLarge    = errors.New("image too large")
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// StoredImage 描述一次上传落盘后的地址。
type StoredImage struct {
	URL        string `json:"url"`
	VariantURL string `json:"variantUrl,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ImageStore 保存首图原图，并按配置宽度生成邮件用的定宽版本。
type ImageStore struct {
	dir     string
	urlPath string
	width   int
	now     func() time.Time
}

func NewImageStore(dir, urlPath string, width int) *ImageStore {
	urlPath = "/" + strings.Trim(urlPath, "/")
	return &ImageStore{dir: dir, urlPath: urlPath, width: width, now: time.Now}
}

// Save stores src under a generated name. A variant named name-<w>w.ext is
// written for jpeg and png sources wider than the configured width.
func (s *ImageStore) Save(filename string, src io.Reader) (*StoredImage, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExts[ext] {
		return nil, ErrUnsupportedImage
	}

	data, err := io.ReadAll(io.LimitReader(src, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, ErrImageTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s%s", s.now().Format("20060102"), uuid.NewString(), ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	stored := &StoredImage{
		URL:    s.urlPath + "/" + name,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	if s.width <= 0 || bounds.Dx() <= s.width {
		return stored, nil
	}

	variant := variantName(name, s.width)
	written, err := s.writeVariant(filepath.Join(s.dir, variant), ext, img)
	if err != nil {
		return stored, err
	}
	if written {
		stored.VariantURL = s.urlPath + "/" + variant
	}
	return stored, nil
}

func (s *ImageStore) writeVariant(path, ext string, img image.Image) (bool, error) {
	var encode func(io.Writer, image.Image) error
	switch ext {
	case ".jpg", ".jpeg":
		encode = func(w io.Writer, m image.Image) error {
			return jpeg.Encode(w, m, &jpeg.Options{Quality: 85})
		}
	case ".png":
		encode = png.Encode
	default:
		// gif/webp 没有对应编码器，邮件里直接用原图
		return false, nil
	}

	bounds := img.Bounds()
	height := bounds.Dy() * s.width / bounds.Dx()
	if height < 1 {
		height = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, s.width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	f, err := os.Create(path)
	if err != nil {
		return false, err
	}
	if err := encode(f, scaled); err != nil {
		f.Close()
		os.Remove(path)
		return false, err
	}
	return true, f.Close()
}

func variantName(name string, width int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%dw%s", strings.TrimSuffix(name, ext), width, ext)
}
