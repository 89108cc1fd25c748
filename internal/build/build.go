// Package build runs the resolve, transform, graph and emit phases for one
// configuration and reports the outcome.
package build

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/emit"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/resolver"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Build phases, used as span names and metric labels
const (
	PhaseSetup = "setup"
	PhaseGraph = "graph"
	PhasePlan  = "plan"
	PhaseEmit  = "emit"
)

const rssSampleInterval = 100 * time.Millisecond

// Options carries the collaborators of a build. Nil fields get working
// defaults.
type Options struct {
	Version string
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Cache overrides the configured transform cache backend. It lets several
	// builds in one process share a store; the caller closes it.
	Cache cache.Store
}

// Result describes a successful build
type Result struct {
	ID       string
	Mode     config.BuildMode
	Graph    *graph.Graph
	Output   *emit.Result
	Duration time.Duration
	PeakRSS  uint64
}

// session holds the per-build state shared by the phases
type session struct {
	id      string
	cfg     *config.Config
	metrics *observability.Metrics
	tracer  *observability.Tracer
	store   cache.Store
	owned   bool // store was opened by the session
}

func newSession(cfg *config.Config, opts Options) *session {
	s := &session{
		id:      uuid.NewString(),
		cfg:     cfg,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		store:   opts.Cache,
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = observability.NoopTracer()
	}
	return s
}

func (s *session) close() {
	if s.store == nil || !s.owned {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close transform cache")
	}
}

// phase runs fn inside a span and records its duration
func (s *session) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.StartPhase(ctx, name)
	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordPhase(name, time.Since(start))
	observability.Finish(span, err)

	log.Debug().
		Str("build_id", s.id).
		Str("phase", name).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Build phase finished")
	return err
}

// Run builds cfg into cfg.Output.Dir. On failure the output directory is
// left as it was and the error is one of *graph.BuildError or
// *emit.EmitError, or a setup error.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	s := newSession(cfg, opts)
	defer s.close()

	start := time.Now()
	ctx, span := s.tracer.StartBuild(ctx, observability.BuildInfo{
		ID:      s.id,
		Mode:    cfg.Mode.String(),
		Version: opts.Version,
		Entries: len(cfg.Entry),
	})

	stopSampler := s.sampleRSS(ctx)

	log.Info().
		Str("build_id", s.id).
		Str("mode", cfg.Mode.String()).
		Str("root", cfg.Root).
		Int("entries", len(cfg.Entry)).
		Str("trace_id", observability.TraceID(ctx)).
		Msg("Starting build")

	result, err := s.run(ctx)
	stopSampler()
	s.metrics.RecordBuild(cfg.Mode.String(), err)
	observability.Finish(span, err)

	if err != nil {
		log.Error().Str("build_id", s.id).Err(err).Msg("Build failed")
		return nil, err
	}

	result.Duration = time.Since(start)
	result.PeakRSS = s.metrics.PeakRSS()

	log.Info().
		Str("build_id", s.id).
		Int("modules", len(result.Graph.Modules)).
		Int("cycles", len(result.Graph.Cycles)).
		Int("files", len(result.Output.Files)).
		Str("hash", result.Output.BuildHash).
		Dur("duration", result.Duration).
		Msg("Build completed")
	return result, nil
}

func (s *session) run(ctx context.Context) (*Result, error) {
	g, names, err := s.graph(ctx)
	if err != nil {
		return nil, err
	}

	var plan *emit.ChunkPlan
	err = s.phase(ctx, PhasePlan, func(ctx context.Context) error {
		var err error
		plan, err = emit.PlanChunks(g, s.cfg.Chunks, names)
		if err != nil {
			return &emit.EmitError{Path: s.cfg.Output.Dir, Op: "plan", Cause: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out *emit.Result
	err = s.phase(ctx, PhaseEmit, func(ctx context.Context) error {
		var err error
		out, err = emit.New(s.cfg).Emit(ctx, g, plan)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, f := range out.Files {
		s.metrics.RecordOutput(f.Kind, f.Size)
	}

	return &Result{
		ID:     s.id,
		Mode:   s.cfg.Mode,
		Graph:  g,
		Output: out,
	}, nil
}

// Graph builds the dependency graph of cfg without emitting anything
func Graph(ctx context.Context, cfg *config.Config, opts Options) (*graph.Graph, error) {
	s := newSession(cfg, opts)
	defer s.close()

	g, _, err := s.graph(ctx)
	return g, err
}

// graph runs setup and the graph phase. It returns the graph and the chunk
// name of each entry module.
func (s *session) graph(ctx context.Context) (*graph.Graph, map[string]string, error) {
	var (
		res   *resolver.Resolver
		tr    graph.Transformer
		paths []string
		names map[string]string
	)
	err := s.phase(ctx, PhaseSetup, func(ctx context.Context) error {
		var err error
		res, err = resolver.NewFromConfig(s.cfg)
		if err != nil {
			return fmt.Errorf("failed to create resolver: %w", err)
		}
		tr, err = s.transformer()
		if err != nil {
			return err
		}
		paths, names = entries(s.cfg, res)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var g *graph.Graph
	err = s.phase(ctx, PhaseGraph, func(ctx context.Context) error {
		var err error
		g, err = graph.NewBuilder(s.cfg.Root, res, tr, s.cfg.Concurrency).Build(ctx, paths)
		if err != nil {
			return err
		}
		cycles := make([][]string, len(g.Cycles))
		for i, cycle := range g.Cycles {
			cycles[i] = relPaths(g, cycle)
		}
		observability.AnnotateGraph(ctx, len(g.Modules), cycles)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.RecordGraph(len(g.Modules), len(g.Cycles))
	for _, cycle := range g.Cycles {
		log.Debug().Str("build_id", s.id).Strs("modules", relPaths(g, cycle)).Msg("Import cycle")
	}
	return g, names, nil
}

// transformer builds the instrumented transform pipeline, with the cache
// backend from the configuration
func (s *session) transformer() (graph.Transformer, error) {
	if s.store == nil {
		store, err := cache.NewStore(&s.cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to create transform cache: %w", err)
		}
		s.store, s.owned = store, store != nil
	}

	var opts []transform.Option
	if s.store != nil {
		opts = append(opts, transform.WithCache(&instrumentedCache{inner: s.store, metrics: s.metrics}))
	}
	return &instrumentedTransformer{
		pipeline: transform.New(s.cfg, opts...),
		metrics:  s.metrics,
		tracer:   s.tracer,
		root:     s.cfg.Root,
	}, nil
}

// entries returns the entry paths ordered by entry name and maps each
// resolvable entry module to its name. When two names resolve to the same
// module the first name wins. Unresolvable entries are left for the graph
// builder to report.
func entries(cfg *config.Config, res *resolver.Resolver) ([]string, map[string]string) {
	names := make([]string, 0, len(cfg.Entry))
	for name := range cfg.Entry {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	byID := make(map[string]string, len(names))
	for _, name := range names {
		path := cfg.Entry[name]
		paths = append(paths, path)
		id, err := res.Resolve(path, cfg.Root)
		if err != nil {
			continue
		}
		if _, ok := byID[id]; !ok {
			byID[id] = name
		}
	}
	return paths, byID
}

// sampleRSS records the process RSS until the returned function is called
func (s *session) sampleRSS(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	sample := func() {
		if rss, err := observability.ProcessRSS(ctx); err == nil {
			s.metrics.RecordRSS(rss)
		}
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(rssSampleInterval)
		defer ticker.Stop()
		sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample()
			}
		}
	}()

	return func() {
		cancel()
		<-done
		if rss, err := observability.ProcessRSS(context.Background()); err == nil {
			s.metrics.RecordRSS(rss)
		}
	}
}

func relPaths(g *graph.Graph, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Modules[id].RelPath
	}
	return out
}
