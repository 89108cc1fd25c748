package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Metrics Tests
// =============================================================================

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordBuild("production", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.buildsTotal.WithLabelValues("production", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.buildsTotal.WithLabelValues("production", "success")))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	t.Run("builds by result", func(t *testing.T) {
		m.RecordBuild("development", nil)
		m.RecordBuild("development", errors.New("boom"))
		m.RecordBuild("development", errors.New("boom"))

		assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("development", "success")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("development", "error")))
	})

	t.Run("graph size", func(t *testing.T) {
		m.RecordGraph(42, 3)
		assert.Equal(t, 42.0, testutil.ToFloat64(m.modulesTotal))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.cyclesTotal))
	})

	t.Run("output bytes accumulate per kind", func(t *testing.T) {
		m.RecordOutput("script", 100)
		m.RecordOutput("script", 50)
		m.RecordOutput("stylesheet", 10)
		assert.Equal(t, 150.0, testutil.ToFloat64(m.outputBytes.WithLabelValues("script")))
		assert.Equal(t, 10.0, testutil.ToFloat64(m.outputBytes.WithLabelValues("stylesheet")))
	})

	t.Run("transforms and cache lookups", func(t *testing.T) {
		m.RecordTransform("script", 10*time.Millisecond, nil)
		m.RecordTransform("script", 10*time.Millisecond, errors.New("syntax"))
		m.RecordCacheLookup(true)
		m.RecordCacheLookup(false)
		m.RecordCacheLookup(false)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.transformsTotal.WithLabelValues("script", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.transformsTotal.WithLabelValues("script", "error")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("hit")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("miss")))
	})

	t.Run("uploads count bytes only on success", func(t *testing.T) {
		m.RecordUpload("s3", 100, nil)
		m.RecordUpload("s3", 999, errors.New("denied"))
		assert.Equal(t, 100.0, testutil.ToFloat64(m.uploadBytesTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("s3", "error")))
	})

	t.Run("phase durations", func(t *testing.T) {
		m.RecordPhase("emit", time.Second)
		assert.Equal(t, 1, testutil.CollectAndCount(m.phaseDuration))
	})
}

func TestMetrics_RecordRSSKeepsPeak(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			m.RecordRSS(v * 1024)
		}(uint64(i))
	}
	wg.Wait()

	m.RecordRSS(10)
	assert.Equal(t, uint64(50*1024), m.PeakRSS())
	assert.Equal(t, float64(50*1024), testutil.ToFloat64(m.peakRSSBytes))
}

func TestMetrics_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMetrics()
	m.RecordBuild("production", nil)
	require.NoError(t, m.Push(server.URL, "fluxpack"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/fluxpack"), path)
	assert.NotEmpty(t, body)
}

func TestMetrics_PushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewMetrics().Push(server.URL, "fluxpack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push metrics")
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordGraph(7, 0)

	path := filepath.Join(t.TempDir(), "fluxpack.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fluxpack_modules 7")
}

// =============================================================================
// Process Tests
// =============================================================================

func TestProcessRSS(t *testing.T) {
	rss, err := ProcessRSS(context.Background())
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	assert.Greater(t, rss, uint64(0))
}

func TestAvailableMemory(t *testing.T) {
	avail, err := AvailableMemory(context.Background())
	if err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	assert.Greater(t, avail, uint64(0))
}
