package build

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
)

// instrumentedTransformer records a metric and a span per transformed module
type instrumentedTransformer struct {
	pipeline *transform.Pipeline
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	root     string
}

func (t *instrumentedTransformer) Transform(ctx context.Context, path string, raw []byte) (*transform.Result, error) {
	rule := "none"
	if r, ok := t.pipeline.Match(path); ok {
		rule = r.Name
	}

	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		rel = path
	}
	ctx, span := t.tracer.StartTransform(ctx, filepath.ToSlash(rel), rule, len(raw))

	start := time.Now()
	result, err := t.pipeline.Transform(ctx, path, raw)
	t.metrics.RecordTransform(rule, time.Since(start), err)
	observability.Finish(span, err)
	return result, err
}

// instrumentedCache counts transform cache hits and misses
type instrumentedCache struct {
	inner   cache.Store
	metrics *observability.Metrics
}

func (c *instrumentedCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordCacheLookup(data != nil)
	return data, nil
}

func (c *instrumentedCache) Set(ctx context.Context, key string, value []byte) error {
	return c.inner.Set(ctx, key, value)
}
