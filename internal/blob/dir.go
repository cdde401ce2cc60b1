package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir keeps blobs as files under Root.
type Dir struct {
	Root     string
	BaseURL  string
	MaxBytes int64
}

func (d Dir) Put(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := checkSize(data, d.MaxBytes); err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return Object{}, fmt.Errorf("create blob dir: %w", err)
	}
	key := NewKey(name)
	tmp, err := os.CreateTemp(d.Root, ".upload-*")
	if err != nil {
		return Object{}, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Object{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Object{}, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.Root, key)); err != nil {
		os.Remove(tmp.Name())
		return Object{}, err
	}
	if contentType == "" {
		contentType = ContentType(key)
	}
	return Object{Key: key, URL: joinURL(d.BaseURL, key), ContentType: contentType, Size: int64(len(data))}, nil
}

func (d Dir) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}
	f, err := os.Open(filepath.Join(d.Root, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}
