package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	ls, err := NewLocalStorage(filepath.Join(t.TempDir(), "published"))
	require.NoError(t, err)
	return ls
}

// =============================================================================
// LocalStorage Tests
// =============================================================================

func TestLocalStorage_NameAndHealth(t *testing.T) {
	ls := newTestLocalStorage(t)
	assert.Equal(t, "local", ls.Name())
	require.NoError(t, ls.Health(context.Background()))

	entries, err := os.ReadDir(ls.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "health probe must be removed")
}

func TestLocalStorage_PutAndStat(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()
	content := []byte("console.log(1);\n")

	obj, err := ls.Put(ctx, "site", "static/js/main.js", content, PutOptions{
		ContentType:  "text/javascript",
		CacheControl: "public, max-age=31536000, immutable",
	})
	require.NoError(t, err)

	assert.Equal(t, "static/js/main.js", obj.Key)
	assert.Equal(t, int64(len(content)), obj.Size)
	assert.Equal(t, "text/javascript", obj.ContentType)
	assert.Equal(t, "public, max-age=31536000, immutable", obj.CacheControl)
	assert.Equal(t, ETag(content), obj.ETag)
	assert.True(t, SameContent(obj, content))

	data, err := os.ReadFile(filepath.Join(ls.root, "site", "static", "js", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalStorage_PutOverwrites(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()

	_, err := ls.Put(ctx, "site", "index.html", []byte("old"), PutOptions{ContentType: "text/html"})
	require.NoError(t, err)
	obj, err := ls.Put(ctx, "site", "index.html", []byte("newer"), PutOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), obj.Size)
	assert.Empty(t, obj.ContentType)
	assert.False(t, SameContent(obj, []byte("old")))
}

func TestLocalStorage_InvalidKeys(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		bucket string
		key    string
	}{
		{name: "parent escape", bucket: "site", key: "../outside.txt"},
		{name: "absolute", bucket: "site", key: "/etc/passwd"},
		{name: "empty key", bucket: "site", key: ""},
		{name: "reserved suffix", bucket: "site", key: "a" + headerSuffix},
		{name: "bucket with slash", bucket: "a/b", key: "x"},
		{name: "empty bucket", bucket: "", key: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ls.Put(ctx, tt.bucket, tt.key, []byte("x"), PutOptions{})
			assert.Error(t, err)
		})
	}
}

func TestLocalStorage_Remove(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()

	_, err := ls.Put(ctx, "site", "a.txt", []byte("a"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, ls.Remove(ctx, "site", "a.txt"))
	assert.NoFileExists(t, filepath.Join(ls.root, "site", "a.txt"+headerSuffix))

	err = ls.Remove(ctx, "site", "a.txt")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = ls.Stat(ctx, "site", "a.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStorage_Walk(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()

	for _, key := range []string{"static/js/b.js", "static/js/a.js", "static/css/a.css", "index.html"} {
		_, err := ls.Put(ctx, "site", key, []byte(key), PutOptions{})
		require.NoError(t, err)
	}

	walk := func(prefix string) ([]string, error) {
		var keys []string
		err := ls.Walk(ctx, "site", prefix, func(obj Object) error {
			keys = append(keys, obj.Key)
			return nil
		})
		return keys, err
	}

	t.Run("all keys sorted without header files", func(t *testing.T) {
		keys, err := walk("")
		require.NoError(t, err)
		assert.Equal(t, []string{"index.html", "static/css/a.css", "static/js/a.js", "static/js/b.js"}, keys)
	})

	t.Run("prefix", func(t *testing.T) {
		keys, err := walk("static/js/")
		require.NoError(t, err)
		assert.Equal(t, []string{"static/js/a.js", "static/js/b.js"}, keys)
	})

	t.Run("callback error stops the walk", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := ls.Walk(ctx, "site", "", func(Object) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("missing bucket", func(t *testing.T) {
		err := ls.Walk(ctx, "nope", "", func(Object) error { return nil })
		assert.Error(t, err)
	})
}

func TestLocalStorage_EnsureBucket(t *testing.T) {
	ls := newTestLocalStorage(t)
	ctx := context.Background()

	exists, err := ls.BucketExists(ctx, "site")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := ls.EnsureBucket(ctx, "site")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ls.EnsureBucket(ctx, "site")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = ls.EnsureBucket(ctx, "../evil")
	assert.Error(t, err)
}

func TestSameContent(t *testing.T) {
	data := []byte("body{}")

	tests := []struct {
		name string
		obj  *Object
		want bool
	}{
		{name: "nil", obj: nil, want: false},
		{name: "no etag", obj: &Object{Size: 6}, want: false},
		{name: "match", obj: &Object{Size: 6, ETag: ETag(data)}, want: true},
		{name: "quoted etag", obj: &Object{Size: 6, ETag: `"` + ETag(data) + `"`}, want: true},
		{name: "size differs", obj: &Object{Size: 7, ETag: ETag(data)}, want: false},
		{name: "multipart etag", obj: &Object{Size: 6, ETag: ETag(data) + "-2"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameContent(tt.obj, data))
		})
	}
}

// =============================================================================
// Provider Factory Tests
// =============================================================================

func TestS3Endpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
		wantSSL  bool
	}{
		{endpoint: "", useSSL: false, want: "s3.amazonaws.com", wantSSL: true},
		{endpoint: "https://minio.example.com/", useSSL: false, want: "minio.example.com", wantSSL: true},
		{endpoint: "http://localhost:9000", useSSL: true, want: "localhost:9000", wantSSL: false},
		{endpoint: "minio:9000", useSSL: false, want: "minio:9000", wantSSL: false},
		{endpoint: "minio:9000", useSSL: true, want: "minio:9000", wantSSL: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, ssl := s3Endpoint(tt.endpoint, tt.useSSL)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSSL, ssl)
		})
	}
}
