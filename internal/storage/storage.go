// Package storage provides the targets build output is published to: a local
// directory tree or an S3-compatible bucket.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Object is a published file
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	CacheControl string    `json:"cache_control,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	Modified     time.Time `json:"modified"`
}

// PutOptions are the response headers stored with an object
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// Provider stores published files in named buckets
type Provider interface {
	Name() string
	Health(ctx context.Context) error

	// EnsureBucket creates bucket when it is missing and reports whether it did
	EnsureBucket(ctx context.Context, bucket string) (bool, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)

	Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*Object, error)
	// Stat returns ErrNotFound for missing keys
	Stat(ctx context.Context, bucket, key string) (*Object, error)
	// Walk calls fn for every object whose key starts with prefix, in key order
	Walk(ctx context.Context, bucket, prefix string, fn func(Object) error) error
	// Remove returns ErrNotFound for missing keys
	Remove(ctx context.Context, bucket, key string) error
}

// ETag returns the digest S3 reports for a single-part upload of data
func ETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SameContent reports whether obj already holds data
func SameContent(obj *Object, data []byte) bool {
	if obj == nil || obj.ETag == "" || obj.Size != int64(len(data)) {
		return false
	}
	return strings.Trim(obj.ETag, `"`) == ETag(data)
}
