// Package extract manages the pluggable per-platform extraction
// capability. The core never inspects pages itself; it dispatches to an
// Extractor registered for the task's platform and bounds the call with a
// hard timeout.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pricesense/price-crawler/internal/core"
)

// Registry maps platforms to their extractor implementations. Registration
// happens at startup; lookups are concurrent-safe.
type Registry struct {
	mu         sync.RWMutex
	extractors map[core.Platform]core.Extractor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[core.Platform]core.Extractor)}
}

// Register binds an extractor to a platform, replacing any previous one.
func (r *Registry) Register(platform core.Platform, ex core.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[platform] = ex
}

// Lookup returns the extractor for a platform.
func (r *Registry) Lookup(platform core.Platform) (core.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.extractors[platform]
	return ex, ok
}

// Platforms lists the registered platforms, sorted for stable output.
func (r *Registry) Platforms() []core.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Platform, 0, len(r.extractors))
	for p := range r.extractors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run dispatches to the platform's extractor under the hard timeout. A
// deadline overrun is reported as core.ErrTimeout regardless of how the
// implementation surfaces it.
func (r *Registry) Run(ctx context.Context, platform core.Platform, url string, timeout time.Duration) (core.RawExtraction, error) {
	ex, ok := r.Lookup(platform)
	if !ok {
		return core.RawExtraction{}, fmt.Errorf("no extractor registered for platform %q: %w", platform, core.ErrParse)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := ex.Extract(callCtx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return core.RawExtraction{}, fmt.Errorf("extract %s: %w", url, core.ErrTimeout)
		}
		return core.RawExtraction{}, fmt.Errorf("extract %s: %w", url, err)
	}
	return raw, nil
}
