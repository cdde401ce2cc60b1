package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFS keeps blobs in a MongoDB GridFS bucket, keyed by file id.
type GridFS struct {
	bucket   *gridfs.Bucket
	baseURL  string
	maxBytes int64
}

func NewGridFS(db *mongo.Database, bucketName, baseURL string, maxBytes int64) (*GridFS, error) {
	opts := options.GridFSBucket()
	if bucketName != "" {
		opts.SetName(bucketName)
	}
	b, err := gridfs.NewBucket(db, opts)
	if err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return &GridFS{bucket: b, baseURL: baseURL, maxBytes: maxBytes}, nil
}

func (g *GridFS) Put(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	if err := checkSize(data, g.maxBytes); err != nil {
		return Object{}, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := g.bucket.SetWriteDeadline(dl); err != nil {
			return Object{}, err
		}
	}
	key := NewKey(name)
	if contentType == "" {
		contentType = ContentType(key)
	}
	upload := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "contentType", Value: contentType},
		{Key: "originalName", Value: name},
	})
	if err := g.bucket.UploadFromStreamWithID(key, key, bytes.NewReader(data), upload); err != nil {
		return Object{}, fmt.Errorf("gridfs upload: %w", err)
	}
	return Object{Key: key, URL: joinURL(g.baseURL, key), ContentType: contentType, Size: int64(len(data))}, nil
}

func (g *GridFS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := g.bucket.SetReadDeadline(dl); err != nil {
			return nil, err
		}
	}
	stream, err := g.bucket.OpenDownloadStream(key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gridfs open: %w", err)
	}
	return stream, nil
}
