package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// headerSuffix marks the sidecar file holding an object's headers
const headerSuffix = ".headers.json"

// LocalStorage publishes into directories under root, one per bucket. Each
// object has a sidecar file with its headers and ETag so a static file server
// or a later publish can read them back.
type LocalStorage struct {
	root string
}

type localHeaders struct {
	ContentType  string `json:"content_type,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
	ETag         string `json:"etag"`
}

// NewLocalStorage creates root if needed
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create publish directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (ls *LocalStorage) Name() string {
	return "local"
}

// Health checks that root is writable
func (ls *LocalStorage) Health(ctx context.Context) error {
	probe, err := os.CreateTemp(ls.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("publish directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func (ls *LocalStorage) bucketPath(bucket string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(ls.root, bucket), nil
}

// objectPath maps a key into its bucket, rejecting keys that would leave it
func (ls *LocalStorage) objectPath(bucket, key string) (string, error) {
	dir, err := ls.bucketPath(bucket)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if strings.HasSuffix(clean, headerSuffix) {
		return "", fmt.Errorf("object key %q uses a reserved suffix", key)
	}
	return filepath.Join(dir, clean), nil
}

func (ls *LocalStorage) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	exists, err := ls.BucketExists(ctx, bucket)
	if err != nil || exists {
		return false, err
	}
	dir, _ := ls.bucketPath(bucket)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create bucket: %w", err)
	}
	return true, nil
}

func (ls *LocalStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	dir, err := ls.bucketPath(bucket)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Put writes data next to its destination and renames it into place, so
// readers never see a partial file
func (ls *LocalStorage) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := ls.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	headers, err := json.Marshal(localHeaders{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		ETag:         ETag(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	if err := writeAtomic(path+headerSuffix, headers); err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, err
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("Object written")
	return ls.Stat(ctx, bucket, key)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	return nil
}

func (ls *LocalStorage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	path, err := ls.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	var headers localHeaders
	if data, err := os.ReadFile(path + headerSuffix); err == nil {
		if err := json.Unmarshal(data, &headers); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable object headers")
		}
	}

	return &Object{
		Key:          key,
		Size:         info.Size(),
		ContentType:  headers.ContentType,
		CacheControl: headers.CacheControl,
		ETag:         headers.ETag,
		Modified:     info.ModTime(),
	}, nil
}

func (ls *LocalStorage) Walk(ctx context.Context, bucket, prefix string, fn func(Object) error) error {
	dir, err := ls.bucketPath(bucket)
	if err != nil {
		return err
	}

	var keys []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, headerSuffix) || strings.HasPrefix(name, ".put-") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bucket %q not found", bucket)
	}
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := ls.Stat(ctx, bucket, key)
		if err != nil {
			return err
		}
		if err := fn(*obj); err != nil {
			return err
		}
	}
	return nil
}

func (ls *LocalStorage) Remove(ctx context.Context, bucket, key string) error {
	path, err := ls.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	_ = os.Remove(path + headerSuffix)

	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Object removed")
	return nil
}
