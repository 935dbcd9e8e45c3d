// Package objectstore persists original document bytes and hands back a
// durable URL for the stored artifact.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
)

// Store is the interface the job pipeline depends on.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

var extByContentType = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/tiff":      ".tiff",
	"text/html":       ".html",
}

// FSStore is a content-addressed filesystem store. Identical bytes land on
// the same path, so re-extraction of a message never duplicates artifacts.
type FSStore struct {
	baseDir string
	logger  *slog.Logger
}

func NewFSStore(baseDir string, logger *slog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{baseDir: baseDir, logger: logger}, nil
}

func (s *FSStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	ext := extByContentType[contentType]
	if ext == "" {
		ext = ".bin"
	}

	dir := filepath.Join(s.baseDir, hexSum[:2])
	path := filepath.Join(dir, hexSum[2:]+ext)
	if _, err := os.Stat(path); err == nil {
		return "file://" + path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("artifact write failed", "path", path, "error", err)
		return "", err
	}
	s.logger.Debug("artifact stored", "path", path, "bytes", len(data), "content_type", contentType)
	return "file://" + path, nil
}
