// Package storage keeps email attachments, either in a local upload folder or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/onurcolak/scheduled-email-service/environments"
)

var (
	ErrNotFound             = errors.New("attachment not found")
	ErrExtensionNotAllowed  = errors.New("attachment type not allowed")
	ErrInvalidAttachmentKey = errors.New("invalid attachment path")
)

// AllowedExtensions is the attachment allow-list. Content is not inspected.
var AllowedExtensions = []string{"jpg", "png", "pdf", "mp4", "docx"}

// Storage is the interface for attachment backends.
type Storage interface {
	// Save stores body under a unique name derived from filename and returns the
	// path to persist on the message.
	Save(ctx context.Context, filename string, body io.Reader, size int64) (path string, err error)
	// Open returns the stored object. ErrNotFound when it does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes the stored object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// CheckExtension rejects filenames whose extension is not in AllowedExtensions.
func CheckExtension(filename string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (allowed: %s)", ErrExtensionNotAllowed, filepath.Ext(filename), strings.Join(AllowedExtensions, ", "))
}

// UniqueName prefixes the base name of filename with a random UUID so uploads never
// collide and never escape the storage root.
func UniqueName(filename string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, "\\", "/")))
	return uuid.NewString() + "_" + base
}

// DisplayName strips the UUID prefix added by UniqueName.
func DisplayName(path string) string {
	base := filepath.Base(path)
	if len(base) > 37 && base[36] == '_' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

// ContentType guesses a MIME type from the file extension.
func ContentType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// New builds the backend selected by cfg.Driver.
func New(cfg environments.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStorage(cfg.UploadFolder)
	case "s3":
		return NewS3Storage(cfg.S3Endpoint, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
