package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sokoni/internal/config"
	"sokoni/internal/middleware"
	"sokoni/internal/models"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadDir        = "uploads"
	DefaultMediaMaxUploadMB = 50
	DefaultThumbnailPx      = 320
	DefaultMediaMaxPixels   = 40_000_000
	DefaultMediaPrefix      = "/uploads"
	thumbnailWebPQuality    = 70
	storyMediaSubdir        = "stories"
)

// StoreMediaInput is an uploaded file.
type StoreMediaInput struct {
	UserID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// StoredMedia describes a file written by MediaService.
type StoredMedia struct {
	Kind         models.MediaType
	ContentType  string
	URL          string
	ThumbnailURL string
	paths        []string
}

// MediaService validates uploads and stores them on local disk.
type MediaService struct {
	uploadDir      string
	publicPrefix   string
	maxUploadBytes int64
	thumbnailPx    int
	maxPixels      int64
}

func NewMediaService(cfg *config.Config) *MediaService {
	s := &MediaService{
		uploadDir:      DefaultUploadDir,
		publicPrefix:   DefaultMediaPrefix,
		maxUploadBytes: DefaultMediaMaxUploadMB * 1024 * 1024,
		thumbnailPx:    DefaultThumbnailPx,
		maxPixels:      DefaultMediaMaxPixels,
	}
	if cfg != nil {
		if cfg.UploadDir != "" {
			s.uploadDir = cfg.UploadDir
		}
		if cfg.MediaPublicPrefix != "" {
			s.publicPrefix = strings.TrimRight(cfg.MediaPublicPrefix, "/")
		}
		if cfg.MediaMaxUploadMB > 0 {
			s.maxUploadBytes = int64(cfg.MediaMaxUploadMB) * 1024 * 1024
		}
		if cfg.MediaThumbnailPx > 0 {
			s.thumbnailPx = cfg.MediaThumbnailPx
		}
		if cfg.MediaMaxPixels > 0 {
			s.maxPixels = cfg.MediaMaxPixels
		}
	}
	return s
}

// MaxUploadBytes is the largest accepted file.
func (s *MediaService) MaxUploadBytes() int64 { return s.maxUploadBytes }

// Store checks the upload and writes it under the upload directory. Images
// also get a WebP thumbnail.
func (s *MediaService) Store(ctx context.Context, in StoreMediaInput) (*StoredMedia, error) {
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("Media file is required")
	}
	if int64(len(in.Content)) > s.maxUploadBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadBytes/(1024*1024)))
	}

	kind, contentType, err := classifyMedia(normalizeContentType(in.ContentType), http.DetectContentType(in.Content))
	if err != nil {
		return nil, err
	}

	var decoded image.Image
	if kind == models.MediaTypeImage {
		// Header-only read so oversized canvases are refused before any pixel
		// buffer is allocated.
		dims, _, err := image.DecodeConfig(bytes.NewReader(in.Content))
		if err != nil {
			return nil, models.NewValidationError("Invalid image file")
		}
		if dims.Width <= 0 || dims.Height <= 0 || int64(dims.Width)*int64(dims.Height) > s.maxPixels {
			return nil, models.NewValidationError(fmt.Sprintf("Image dimensions %dx%d exceed the %d pixel limit", dims.Width, dims.Height, s.maxPixels))
		}
		decoded, _, err = image.Decode(bytes.NewReader(in.Content))
		if err != nil {
			return nil, models.NewValidationError("Invalid image file")
		}
	}

	name := uuid.NewString()
	rel := path.Join(storyMediaSubdir, name+extensionFor(contentType, in.Filename))
	out := &StoredMedia{Kind: kind, ContentType: contentType, URL: s.publicURL(rel)}

	abs := filepath.Join(s.uploadDir, filepath.FromSlash(rel))
	if err := writeBytesToFile(abs, in.Content); err != nil {
		return nil, models.NewInternalError(err)
	}
	out.paths = append(out.paths, abs)

	if decoded != nil {
		thumbRel := path.Join(storyMediaSubdir, name+"_thumb.webp")
		thumbAbs := filepath.Join(s.uploadDir, filepath.FromSlash(thumbRel))
		if err := s.writeThumbnail(thumbAbs, decoded); err != nil {
			middleware.Logger.WarnContext(ctx, "thumbnail generation failed",
				slog.Uint64("user_id", uint64(in.UserID)),
				slog.String("error", err.Error()))
		} else {
			out.ThumbnailURL = s.publicURL(thumbRel)
			out.paths = append(out.paths, thumbAbs)
		}
	}
	return out, nil
}

// Discard removes the files written for m.
func (s *MediaService) Discard(m *StoredMedia) {
	if m == nil {
		return
	}
	for _, p := range m.paths {
		_ = os.Remove(p)
	}
}

func (s *MediaService) publicURL(rel string) string {
	return s.publicPrefix + "/" + rel
}

func (s *MediaService) writeThumbnail(dst string, src image.Image) error {
	thumb := resizeToFit(src, s.thumbnailPx, s.thumbnailPx)
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, thumb, &webp.Options{Quality: thumbnailWebPQuality}); err != nil {
		return err
	}
	return writeBytesToFile(dst, buf.Bytes())
}

// classifyMedia decides the media kind from the sniffed type. A declared type
// of the other kind is rejected. Containers the sniffer cannot identify are
// accepted as video only when declared as video.
func classifyMedia(declared, sniffed string) (models.MediaType, string, error) {
	sniffed = normalizeContentType(sniffed)
	switch {
	case strings.HasPrefix(sniffed, "image/"):
		if declared != "" && !strings.HasPrefix(declared, "image/") && declared != "application/octet-stream" {
			return "", "", models.NewValidationError("Media content type mismatch")
		}
		return models.MediaTypeImage, sniffed, nil
	case strings.HasPrefix(sniffed, "video/"):
		if declared != "" && !strings.HasPrefix(declared, "video/") && declared != "application/octet-stream" {
			return "", "", models.NewValidationError("Media content type mismatch")
		}
		return models.MediaTypeVideo, sniffed, nil
	case sniffed == "application/octet-stream" && strings.HasPrefix(declared, "video/"):
		return models.MediaTypeVideo, declared, nil
	}
	return "", "", models.NewValidationError("Only image and video files are allowed")
}

var preferredExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

func extensionFor(contentType, filename string) string {
	if ext, ok := preferredExt[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if ext := strings.ToLower(filepath.Ext(filename)); len(ext) > 1 && len(ext) <= 6 {
		return ext
	}
	return ""
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || (w <= maxWidth && h <= maxHeight) {
		return src
	}
	scale := min(float64(maxWidth)/float64(w), float64(maxHeight)/float64(h))
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func writeBytesToFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}
