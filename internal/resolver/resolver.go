// Package resolver maps import specifiers to files on disk.
package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// DefaultCacheSize bounds the number of memoized resolutions per resolver
const DefaultCacheSize = 8192

// Options configures a Resolver
type Options struct {
	Extensions []string          // probe order
	Alias      map[string]string // specifier prefix -> absolute directory
	Modules    []string          // package directory names, e.g. node_modules
	MainFields []string          // package.json fields tried in order
	Externals  map[string]string // specifier -> global name
	CacheSize  int
}

// Resolver resolves specifiers deterministically from filesystem state and
// its options. It is safe for concurrent use.
type Resolver struct {
	opts      Options
	aliasKeys []string // longest first
	cache     *lru.Cache[cacheKey, cacheValue]
}

type cacheKey struct {
	fromDir   string
	specifier string
}

type cacheValue struct {
	path string
	err  error
}

// New creates a resolver
func New(opts Options) (*Resolver, error) {
	if len(opts.Extensions) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[cacheKey, cacheValue](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution cache: %w", err)
	}

	keys := make([]string, 0, len(opts.Alias))
	for key := range opts.Alias {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	return &Resolver{opts: opts, aliasKeys: keys, cache: cache}, nil
}

// NewFromConfig creates a resolver from the resolve section of cfg
func NewFromConfig(cfg *config.Config) (*Resolver, error) {
	return New(Options{
		Extensions: cfg.Resolve.Extensions,
		Alias:      cfg.Resolve.Alias,
		Modules:    cfg.Resolve.Modules,
		MainFields: cfg.Resolve.MainFields,
		Externals:  cfg.Resolve.Externals,
	})
}

// External reports whether specifier is provided by a global at runtime
func (r *Resolver) External(specifier string) (string, bool) {
	global, ok := r.opts.Externals[specifier]
	return global, ok
}

// Resolve maps specifier, imported from a file in fromDir, to an absolute
// file path. Failures are *ResolutionError.
func (r *Resolver) Resolve(specifier, fromDir string) (string, error) {
	key := cacheKey{fromDir: fromDir, specifier: specifier}
	if cached, ok := r.cache.Get(key); ok {
		return cached.path, cached.err
	}

	path, err := r.resolve(specifier, fromDir)
	r.cache.Add(key, cacheValue{path: path, err: err})
	return path, err
}

func (r *Resolver) resolve(specifier, fromDir string) (string, error) {
	notFound := &ResolutionError{Specifier: specifier, FromDir: fromDir, Reason: NotFound}

	if specifier == "" {
		return "", notFound
	}

	if target, ok := r.matchAlias(specifier); ok {
		if path, found := r.probe(target); found {
			return path, nil
		}
		return "", notFound
	}

	if isRelative(specifier) || filepath.IsAbs(specifier) {
		target := specifier
		if !filepath.IsAbs(target) {
			target = filepath.Join(fromDir, specifier)
		}
		if path, found := r.probe(filepath.Clean(target)); found {
			return path, nil
		}
		return "", notFound
	}

	return r.resolvePackage(specifier, fromDir)
}

// matchAlias substitutes the longest alias key that equals specifier or is
// followed by a slash in it
func (r *Resolver) matchAlias(specifier string) (string, bool) {
	for _, key := range r.aliasKeys {
		if specifier == key {
			return r.opts.Alias[key], true
		}
		if strings.HasPrefix(specifier, key+"/") {
			rest := strings.TrimPrefix(specifier, key+"/")
			return filepath.Join(r.opts.Alias[key], filepath.FromSlash(rest)), true
		}
	}
	return "", false
}

// resolvePackage walks from fromDir towards the filesystem root looking for
// the package in every configured module directory. The first level where the
// package resolves wins.
func (r *Resolver) resolvePackage(specifier, fromDir string) (string, error) {
	name, sub := splitPackage(specifier)

	dir := filepath.Clean(fromDir)
	for {
		var found []string
		for _, modules := range r.opts.Modules {
			if filepath.Base(dir) == modules {
				continue
			}
			pkgDir := filepath.Join(dir, modules, filepath.FromSlash(name))
			if path, ok := r.resolveInPackage(pkgDir, sub); ok {
				found = appendUnique(found, path)
			}
		}

		switch len(found) {
		case 0:
		case 1:
			return found[0], nil
		default:
			log.Debug().
				Str("specifier", specifier).
				Strs("candidates", found).
				Msg("Package resolves differently across module directories")
			return "", &ResolutionError{
				Specifier:  specifier,
				FromDir:    fromDir,
				Reason:     Ambiguous,
				Candidates: found,
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &ResolutionError{Specifier: specifier, FromDir: fromDir, Reason: NotFound}
		}
		dir = parent
	}
}

func (r *Resolver) resolveInPackage(pkgDir, sub string) (string, bool) {
	if sub != "" {
		return r.probe(filepath.Join(pkgDir, filepath.FromSlash(sub)))
	}

	if !isDir(pkgDir) {
		// a bare file inside the module directory, e.g. node_modules/shim.js
		return r.probeFile(pkgDir)
	}

	for _, entry := range r.packageEntries(pkgDir) {
		if path, ok := r.probe(filepath.Join(pkgDir, filepath.FromSlash(entry))); ok {
			return path, true
		}
	}
	return r.probeIndex(pkgDir)
}

// packageEntries returns the string values of the configured entry fields in
// package.json, in field order
func (r *Resolver) packageEntries(pkgDir string) []string {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return nil
	}

	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Debug().Err(err).Str("package", pkgDir).Msg("Ignoring unreadable package.json")
		return nil
	}

	var entries []string
	for _, field := range r.opts.MainFields {
		raw, ok := manifest[field]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil || value == "" {
			continue
		}
		entries = append(entries, value)
	}
	return entries
}

// probe tries path as a file, then with each extension, then as a directory
// with an index file
func (r *Resolver) probe(path string) (string, bool) {
	if found, ok := r.probeFile(path); ok {
		return found, true
	}
	return r.probeIndex(path)
}

func (r *Resolver) probeFile(path string) (string, bool) {
	if isFile(path) {
		return path, true
	}
	for _, ext := range r.opts.Extensions {
		if isFile(path + ext) {
			return path + ext, true
		}
	}
	return "", false
}

func (r *Resolver) probeIndex(dir string) (string, bool) {
	if !isDir(dir) {
		return "", false
	}
	for _, ext := range r.opts.Extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// splitPackage splits "pkg/sub" and "@scope/pkg/sub" into package name and subpath
func splitPackage(specifier string) (string, string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, parts[2]
		}
		return name, ""
	}
	name, sub, _ := strings.Cut(specifier, "/")
	return name, sub
}

func isRelative(specifier string) bool {
	return specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
