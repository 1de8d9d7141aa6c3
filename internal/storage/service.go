// Package storage は画像オブジェクトの保存と公開URLの生成を提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/repository"
)

// sniffLen はhttp.DetectContentTypeが参照する先頭バイト数。
const sniffLen = 512

// 判定されたContent-Typeから拡張子への対応。
var extensionsByType = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
	"image/bmp":    "bmp",
	"image/x-icon": "ico",
	"image/avif":   "avif",
}

// Uploaded はアップロード結果。
type Uploaded struct {
	Bucket      model.Bucket
	Name        string
	URL         string
	ContentType string
	Size        int64
}

// Service は画像の保存と取得を行う。
type Service struct {
	repo     repository.ImageRepository
	baseURL  string
	maxSize  int64
	recorder metrics.Recorder
}

// NewService はServiceを生成する。baseURLは末尾スラッシュなしで渡す。
func NewService(repo repository.ImageRepository, baseURL string, maxSize int64, recorder metrics.Recorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxSize:  maxSize,
		recorder: recorder,
	}
}

// MaxSize はアップロード可能な最大バイト数を返す。
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload は画像を検証して保存し、公開URLを返す。
// 内容から判定したContent-Typeがimage/*でない場合は拒否する。
// オブジェクト名は"<uuid>.<拡張子>"で、元のファイル名は拡張子の補完にのみ使う。
func (s *Service) Upload(ctx context.Context, bucket model.Bucket, ownerID, filename string, r io.Reader) (*Uploaded, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("unknown bucket: %s", bucket)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, model.NewImageTooLargeError(s.maxSize)
	}
	if len(data) == 0 {
		return nil, model.NewInvalidImageError()
	}

	contentType := DetectImageType(data)
	if contentType == "" {
		return nil, model.NewInvalidImageError()
	}

	img := &model.Image{
		ID:          uuid.New().String(),
		Bucket:      bucket,
		Name:        uuid.New().String() + "." + extensionFor(contentType, filename),
		OwnerID:     ownerID,
		ContentType: contentType,
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	s.recorder.RecordImageUploaded(string(bucket), img.Size)
	slog.Info("image uploaded",
		slog.String("user_id", ownerID),
		slog.String("bucket", string(bucket)),
		slog.String("name", img.Name),
		slog.Int64("size", img.Size),
	)

	return &Uploaded{
		Bucket:      bucket,
		Name:        img.Name,
		URL:         s.PublicURL(bucket, img.Name),
		ContentType: contentType,
		Size:        img.Size,
	}, nil
}

// Get は保存済みの画像を返す。
func (s *Service) Get(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error) {
	if !bucket.Valid() || name == "" || strings.ContainsAny(name, "/\\") {
		return nil, model.NewImageNotFoundError(name)
	}
	img, err := s.repo.FindByName(ctx, bucket, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}
	if img == nil {
		return nil, model.NewImageNotFoundError(name)
	}
	return img, nil
}

// PublicURL は画像の公開URLを返す。
func (s *Service) PublicURL(bucket model.Bucket, name string) string {
	return fmt.Sprintf("%s/storage/%s/%s", s.baseURL, bucket, name)
}

// DetectImageType は先頭バイトからContent-Typeを判定し、画像でなければ空文字を返す。
func DetectImageType(data []byte) string {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return ""
	}
	return contentType
}

func extensionFor(contentType, filename string) string {
	if ext, ok := extensionsByType[contentType]; ok {
		return ext
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), "."); isSimpleExt(ext) {
		return ext
	}
	return "img"
}

func isSimpleExt(ext string) bool {
	if ext == "" || len(ext) > 5 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
