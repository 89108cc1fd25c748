// Package transform turns source files into CommonJS module bodies by
// running the stage chain of the first rule that matches each file.
package transform

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// ArtifactKind identifies a side artifact
type ArtifactKind string

const (
	ArtifactStylesheet ArtifactKind = "stylesheet"
	ArtifactMedia      ArtifactKind = "media"
)

// Artifact is non-script output produced while transforming a module
type Artifact struct {
	Kind    ArtifactKind `json:"kind"`
	Name    string       `json:"name"`           // logical name, the source path relative to root
	Path    string       `json:"path,omitempty"` // output path for media, relative to the output root
	Content []byte       `json:"content"`
	Hash    string       `json:"hash"`
}

// Result is the outcome of transforming one file
type Result struct {
	Code      []byte     `json:"code"` // CommonJS module body
	Rule      string     `json:"rule"`
	Imports   []string   `json:"imports,omitempty"` // specifiers Code requires, in order
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Cache stores serialized results by key. Get returns nil data on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type contentKind int

const (
	kindSource contentKind = iota
	kindScript
	kindStylesheet
)

// unit is the value flowing between stages. Stages return a new unit and
// never share mutable state with the caller.
type unit struct {
	path       string // absolute
	relPath    string // relative to root, forward slashes
	kind       contentKind
	code       []byte
	classMap   map[string]string
	cssImports []string
	imports    []string // specifiers of a script unit
	artifacts  []Artifact
}

type stageFunc func(ctx context.Context, in unit) (unit, error)

// Pipeline applies configured rules to files. It holds no per-file state and
// is safe for concurrent use.
type Pipeline struct {
	cfg     *config.Config
	rules   []config.RuleConfig
	timeout time.Duration
	cache   Cache
	stages  map[string]stageFunc
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCache enables the transform cache
func WithCache(cache Cache) Option {
	return func(p *Pipeline) {
		p.cache = cache
	}
}

// New creates a pipeline for a validated configuration
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		rules:   cfg.Rules,
		timeout: cfg.TransformTimeout,
	}
	p.stages = map[string]stageFunc{
		config.StageScript:     p.scriptStage,
		config.StageJSON:       p.jsonStage,
		config.StageCSS:        p.cssStage,
		config.StageCSSModules: p.cssModulesStage,
		config.StageExtract:    p.extractStage,
		config.StageAsset:      p.assetStage,
		config.StageText:       p.textStage,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Match returns the first rule matching path
func (p *Pipeline) Match(path string) (*config.RuleConfig, bool) {
	rel := p.relPath(path)
	for i := range p.rules {
		if p.rules[i].Matches(rel) {
			return &p.rules[i], true
		}
	}
	return nil, false
}

// Transform runs the matching rule's stages over raw. Failures are
// *TransformError.
func (p *Pipeline) Transform(ctx context.Context, path string, raw []byte) (*Result, error) {
	rule, ok := p.Match(path)
	if !ok {
		return nil, &TransformError{Path: path, Stage: "match", Reason: NoRule}
	}

	var key string
	if p.cache != nil {
		key = p.cacheKey(rule, path, raw)
		if result, ok := p.cached(ctx, key); ok {
			return result, nil
		}
	}

	u := unit{
		path:    path,
		relPath: p.relPath(path),
		kind:    kindSource,
		code:    raw,
	}

	for _, name := range rule.Use {
		stage, ok := p.stages[name]
		if !ok {
			return nil, &TransformError{Path: path, Stage: name, Reason: Failed, Cause: fmt.Errorf("unknown stage")}
		}
		next, err := p.runStage(ctx, name, stage, u)
		if err != nil {
			return nil, err
		}
		u = next
	}

	code, imports, err := finish(u)
	if err != nil {
		return nil, &TransformError{Path: path, Stage: rule.Use[len(rule.Use)-1], Reason: Failed, Cause: err}
	}

	result := &Result{Code: code, Rule: rule.Name, Imports: imports, Artifacts: u.artifacts}

	if p.cache != nil {
		p.store(ctx, key, result)
	}

	return result, nil
}

// runStage runs one stage under the transform timeout. A stage that does not
// return in time is abandoned; its goroutine finishes in the background and
// its output is discarded.
func (p *Pipeline) runStage(ctx context.Context, name string, stage stageFunc, in unit) (unit, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		out unit
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := stage(stageCtx, in)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return unit{}, &TransformError{Path: in.path, Stage: name, Reason: Failed, Cause: res.err}
		}
		return res.out, nil
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return unit{}, &TransformError{Path: in.path, Stage: name, Reason: Failed, Cause: ctx.Err()}
		}
		log.Warn().Str("path", in.relPath).Str("stage", name).Dur("timeout", p.timeout).Msg("Transform stage timed out")
		return unit{}, &TransformError{Path: in.path, Stage: name, Reason: Timeout, Cause: stageCtx.Err()}
	}
}

func (p *Pipeline) relPath(path string) string {
	rel, err := filepath.Rel(p.cfg.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// cacheFormat changes whenever the cached Result layout does
const cacheFormat = "result/2"

// cacheKey digests everything that can change a transform's output
func (p *Pipeline) cacheKey(rule *config.RuleConfig, path string, raw []byte) string {
	engines := make([]string, 0, len(p.cfg.Target.Engines))
	for name, version := range p.cfg.Target.Engines {
		engines = append(engines, name+"="+version)
	}
	sort.Strings(engines)

	h, _ := blake2b.New256(nil) // unkeyed never fails
	for _, part := range []string{
		cacheFormat,
		p.relPath(path),
		rule.Name,
		strings.Join(rule.Use, ","),
		string(p.cfg.Mode),
		p.cfg.Target.ES,
		p.cfg.Target.JSX,
		strings.Join(engines, ","),
		p.cfg.Output.AssetFilename,
		fmt.Sprintf("%d:%t", p.cfg.Assets.InlineLimit, p.cfg.Output.Sourcemap),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) cached(ctx context.Context, key string) (*Result, bool) {
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Transform cache read failed")
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable transform cache entry")
		return nil, false
	}
	return &result, true
}

func (p *Pipeline) store(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode transform result for cache")
		return
	}
	if err := p.cache.Set(ctx, key, data); err != nil {
		log.Warn().Err(err).Msg("Transform cache write failed")
	}
}

var errNoScript = errors.New("stage chain did not produce a script module")

// finish turns the last stage's output into a module body and its imports.
// A stylesheet that was not extracted is injected into the document at
// runtime.
func finish(u unit) ([]byte, []string, error) {
	switch u.kind {
	case kindScript:
		return u.code, u.imports, nil
	case kindStylesheet:
		return styleInjectModule(u), dedupe(u.cssImports), nil
	default:
		return nil, nil, errNoScript
	}
}

func dedupe(specifiers []string) []string {
	var out []string
	seen := make(map[string]bool, len(specifiers))
	for _, spec := range specifiers {
		if !seen[spec] {
			seen[spec] = true
			out = append(out, spec)
		}
	}
	return out
}
