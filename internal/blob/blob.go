// Package blob stores uploaded task media and hands back stable URLs.
package blob

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrTooLarge   = errors.New("blob too large")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Object describes a stored blob.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewKey derives a fresh key that keeps the extension of name.
func NewKey(name string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(name)))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// ValidKey rejects anything that could escape the store namespace.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.Contains(key, "..")
}

// ContentType guesses the media type of a key from its extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func joinURL(base, key string) string {
	if base == "" {
		base = "/media"
	}
	return strings.TrimRight(base, "/") + "/" + key
}

func checkSize(data []byte, max int64) error {
	if max > 0 && int64(len(data)) > max {
		return ErrTooLarge
	}
	return nil
}
