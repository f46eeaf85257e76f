// Package storage persists finalized job artifacts under owner-scoped keys.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/digkill/PhotoForge/internal/config"
)

// ObjectStore writes an object and returns the URL it is served from.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New builds the store selected by cfg.StorageDriver.
func New(cfg config.Config) (ObjectStore, error) {
	switch cfg.StorageDriver {
	case config.StorageS3:
		return NewS3Store(S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
	case config.StorageFilesystem:
		return NewFileStore(cfg.StoragePath, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// JobKey is the owner-scoped location of a job's output: <owner>/<job id><ext>.
func JobKey(userID, jobID, contentType string) string {
	return path.Join(segment(userID), segment(jobID)+extensionFromContentType(contentType))
}

func segment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func extensionFromContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
