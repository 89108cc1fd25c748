// Package publish uploads an emitted output root to a storage provider.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/emit"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// immutableCache is sent for files whose names carry a content hash
	immutableCache = "public, max-age=31536000, immutable"
	// revalidateCache is sent for entry files that keep a stable name
	revalidateCache = "no-cache"
)

// Options controls a publish run
type Options struct {
	Bucket        string
	Prefix        string
	RateLimit     float64 // uploads per second, 0 for no limit
	Concurrency   int
	DryRun        bool
	DeleteMissing bool
	// OnUpload is called after every upload attempt
	OnUpload func(key string, size int64, err error)
}

// Action is what happened to one file
type Action string

const (
	ActionUploaded  Action = "uploaded"
	ActionUnchanged Action = "unchanged"
	ActionDeleted   Action = "deleted"
	ActionPlanned   Action = "planned"
)

// FileResult describes one published or deleted object
type FileResult struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	Action Action `json:"action"`
}

// Report summarizes a publish run
type Report struct {
	Provider string       `json:"provider"`
	Bucket   string       `json:"bucket"`
	Files    []FileResult `json:"files"`
	Bytes    int64        `json:"bytes"`
}

// Count returns the number of files with the given action
func (r *Report) Count(action Action) int {
	n := 0
	for _, f := range r.Files {
		if f.Action == action {
			n++
		}
	}
	return n
}

// Publisher uploads output roots
type Publisher struct {
	provider storage.Provider
	limiter  *rate.Limiter
	opts     Options
}

// New creates a publisher for provider
func New(provider storage.Provider, opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Publisher{provider: provider, limiter: limiter, opts: opts}, nil
}

type localFile struct {
	rel  string
	path string
	size int64
}

// Publish uploads every file under outDir. Hashed assets go first and the
// files that reference them (HTML shell and manifests) last, so a reader never
// sees an entry file pointing at an asset that is not there yet.
func (p *Publisher) Publish(ctx context.Context, outDir string) (*Report, error) {
	files, err := collect(outDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to publish in %s", outDir)
	}

	if !p.opts.DryRun {
		if err := p.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	report := &Report{Provider: p.provider.Name(), Bucket: p.opts.Bucket}
	var assets, entries []localFile
	for _, f := range files {
		if isEntryFile(f.rel) {
			entries = append(entries, f)
		} else {
			assets = append(assets, f)
		}
	}

	for _, batch := range [][]localFile{assets, entries} {
		results, err := p.uploadBatch(ctx, batch)
		report.Files = append(report.Files, results...)
		if err != nil {
			return report, err
		}
	}

	if p.opts.DeleteMissing {
		deleted, err := p.deleteMissing(ctx, files)
		report.Files = append(report.Files, deleted...)
		if err != nil {
			return report, err
		}
	}

	for _, f := range report.Files {
		if f.Action == ActionUploaded {
			report.Bytes += f.Size
		}
	}
	return report, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	created, err := p.provider.EnsureBucket(ctx, p.opts.Bucket)
	if err != nil {
		return fmt.Errorf("failed to prepare bucket %s: %w", p.opts.Bucket, err)
	}
	if created {
		log.Info().Str("bucket", p.opts.Bucket).Msg("Bucket created")
	}
	return nil
}

func (p *Publisher) uploadBatch(ctx context.Context, files []localFile) ([]FileResult, error) {
	results := make([]FileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			result, err := p.uploadFile(ctx, f)
			results[i] = result
			return err
		})
	}
	err := g.Wait()

	done := results[:0]
	for _, r := range results {
		if r.Key != "" {
			done = append(done, r)
		}
	}
	return done, err
}

func (p *Publisher) uploadFile(ctx context.Context, f localFile) (FileResult, error) {
	key := p.key(f.rel)

	data, err := os.ReadFile(f.path)
	if err != nil {
		return FileResult{}, fmt.Errorf("failed to read %s: %w", f.rel, err)
	}

	if p.opts.DryRun {
		return FileResult{Key: key, Size: f.size, Action: ActionPlanned}, nil
	}

	if unchanged, err := p.unchanged(ctx, key, data); err != nil {
		return FileResult{}, err
	} else if unchanged {
		log.Debug().Str("key", key).Msg("Skipping unchanged file")
		return FileResult{Key: key, Size: f.size, Action: ActionUnchanged}, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return FileResult{}, err
	}

	_, err = p.provider.Put(ctx, p.opts.Bucket, key, data, storage.PutOptions{
		ContentType:  contentType(f.rel),
		CacheControl: cacheControl(f.rel),
	})
	if p.opts.OnUpload != nil {
		p.opts.OnUpload(key, int64(len(data)), err)
	}
	if err != nil {
		return FileResult{}, fmt.Errorf("failed to upload %s: %w", f.rel, err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("File published")
	return FileResult{Key: key, Size: f.size, Action: ActionUploaded}, nil
}

// unchanged reports whether the stored object already holds data
func (p *Publisher) unchanged(ctx context.Context, key string, data []byte) (bool, error) {
	obj, err := p.provider.Stat(ctx, p.opts.Bucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return storage.SameContent(obj, data), nil
}

func (p *Publisher) deleteMissing(ctx context.Context, files []localFile) ([]FileResult, error) {
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[p.key(f.rel)] = true
	}

	prefix := ""
	if p.opts.Prefix != "" {
		prefix = p.opts.Prefix + "/"
	}

	var results []FileResult
	if p.opts.DryRun {
		exists, err := p.provider.BucketExists(ctx, p.opts.Bucket)
		if err != nil || !exists {
			return nil, err
		}
	}

	var stale []storage.Object
	err := p.provider.Walk(ctx, p.opts.Bucket, prefix, func(obj storage.Object) error {
		if !keep[obj.Key] {
			stale = append(stale, obj)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list published files: %w", err)
	}

	for _, obj := range stale {
		if !p.opts.DryRun {
			if err := p.provider.Remove(ctx, p.opts.Bucket, obj.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return results, fmt.Errorf("failed to delete %s: %w", obj.Key, err)
			}
		}
		results = append(results, FileResult{Key: obj.Key, Size: obj.Size, Action: ActionDeleted})
	}
	return results, nil
}

func (p *Publisher) key(rel string) string {
	if p.opts.Prefix == "" {
		return rel
	}
	return p.opts.Prefix + "/" + rel
}

// collect lists the regular files under dir sorted by relative path
func collect(dir string) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{rel: filepath.ToSlash(rel), path: p, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// isEntryFile reports whether rel keeps its name across builds
func isEntryFile(rel string) bool {
	switch path.Base(rel) {
	case emit.ManifestFile, emit.MetaFile:
		return true
	}
	return path.Ext(rel) == ".html"
}

func cacheControl(rel string) string {
	if isEntryFile(rel) {
		return revalidateCache
	}
	return immutableCache
}

var contentTypes = map[string]string{
	".js":   "text/javascript; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".json": "application/json",
	".map":  "application/json",
	".svg":  "image/svg+xml",
}

func contentType(rel string) string {
	ext := strings.ToLower(path.Ext(rel))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
