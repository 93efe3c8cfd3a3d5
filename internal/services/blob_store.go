package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	// PublicUploadPrefix is where the upload dir is mounted on the router.
	PublicUploadPrefix = "/uploads"
	blogImageDir       = "blogs"
)

var (
	ErrUnsupportedImage = errors.New("only jpg, jpeg, png and gif images are allowed")
	ErrImageTooLarge    = errors.New("image exceeds the size limit")
)

var allowedImages = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
}

// BlobStore keeps uploaded post images.
type BlobStore interface {
	Save(ctx context.Context, userID uint, filename string, size int64, r io.Reader) (string, error)
	Delete(publicPath string) bool
}

// LocalBlobStore writes to Root/blogs and hands out /uploads/blogs/... paths.
type LocalBlobStore struct {
	Root     string
	MaxBytes int64
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewLocalBlobStore(root string, maxBytes int64, logger *slog.Logger) *LocalBlobStore {
	return &LocalBlobStore{Root: root, MaxBytes: maxBytes, Logger: logger, Now: time.Now}
}

func (s *LocalBlobStore) Save(ctx context.Context, userID uint, filename string, size int64, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	wantMIME, ok := allowedImages[ext]
	if !ok {
		return "", ErrUnsupportedImage
	}
	if size > s.MaxBytes {
		return "", ErrImageTooLarge
	}

	// 读到上限 +1 字节，防止 size 参数与实际内容不符
	data, err := io.ReadAll(io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.MaxBytes {
		return "", ErrImageTooLarge
	}
	if len(data) == 0 {
		return "", ErrUnsupportedImage
	}

	detected := mimetype.Detect(data)
	if !detected.Is(wantMIME[0]) {
		return "", fmt.Errorf("%w: content is %s", ErrUnsupportedImage, detected.String())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%d_%s_%s%s", userID, s.Now().UTC().Format("20060102150405"), uuid.NewString(), ext)
	dir := filepath.Join(s.Root, blogImageDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	if err := writeFileAtomic(dst, data); err != nil {
		return "", err
	}
	return path.Join(PublicUploadPrefix, blogImageDir, name), nil
}

func writeFileAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename upload: %w", err)
	}
	return nil
}

// Delete removes a file previously returned by Save. Anything outside the
// blog image dir is ignored.
func (s *LocalBlobStore) Delete(publicPath string) bool {
	prefix := path.Join(PublicUploadPrefix, blogImageDir) + "/"
	clean := path.Clean("/" + publicPath)
	if !strings.HasPrefix(clean, prefix) {
		return false
	}
	name := strings.TrimPrefix(clean, prefix)
	if name == "" || strings.Contains(name, "/") {
		return false
	}
	if err := os.Remove(filepath.Join(s.Root, blogImageDir, name)); err != nil {
		if !errors.Is(err, os.ErrNotExist) && s.Logger != nil {
			s.Logger.Warn("delete upload", "path", publicPath, "err", err)
		}
		return false
	}
	return true
}
