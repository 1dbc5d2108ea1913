package embedding

import (
	"context"
	"sync"
	"time"

	"codeforge/internal/logging"
)

// ResilientEngine wraps a primary engine with retries, a deterministic
// hash fallback and a session-scoped cache. Transient failures are
// retried up to three attempts with exponential backoff starting at
// 500ms; after that the hash fallback produces a same-dimension vector
// and the call is tagged degraded so it can be recomputed later.
//
// The cache guarantees that embedding the same text twice within a
// session returns bit-identical vectors.
type ResilientEngine struct {
	primary  Engine
	fallback *HashEngine

	mu    sync.Mutex
	cache map[string]cachedVector

	maxAttempts int
	baseBackoff time.Duration
}

type cachedVector struct {
	vec      []float32
	degraded bool
}

// NewResilientEngine wraps primary with retry, fallback and caching.
func NewResilientEngine(primary Engine) *ResilientEngine {
	return &ResilientEngine{
		primary:     primary,
		fallback:    NewHashEngine(primary.Dimensions()),
		cache:       make(map[string]cachedVector),
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Embed satisfies the Engine interface.
func (e *ResilientEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := e.EmbedTagged(ctx, text)
	return vec, err
}

// EmbedTagged embeds text and reports whether the hash fallback was
// used. Fallback vectors should be recomputed once the primary engine
// recovers.
func (e *ResilientEngine) EmbedTagged(ctx context.Context, text string) ([]float32, bool, error) {
	e.mu.Lock()
	if cached, ok := e.cache[text]; ok {
		e.mu.Unlock()
		return cached.vec, cached.degraded, nil
	}
	e.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := e.baseBackoff << uint(attempt-2)
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vec, err := e.primary.Embed(ctx, text)
		if err == nil {
			e.store(text, vec, false)
			return vec, false, nil
		}
		lastErr = err
		logging.EmbeddingDebug("embed attempt %d/%d failed: %v", attempt, e.maxAttempts, err)

		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
	}

	logging.Get(logging.CategoryEmbedding).Warn("primary engine unavailable, using hash fallback: %v", lastErr)
	vec, err := e.fallback.Embed(ctx, text)
	if err != nil {
		return nil, false, err
	}
	e.store(text, vec, true)
	return vec, true, nil
}

func (e *ResilientEngine) store(text string, vec []float32, degraded bool) {
	e.mu.Lock()
	e.cache[text] = cachedVector{vec: vec, degraded: degraded}
	e.mu.Unlock()
}

// EmbedBatch embeds texts one at a time through the resilient path.
func (e *ResilientEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the primary engine's dimensionality.
func (e *ResilientEngine) Dimensions() int { return e.primary.Dimensions() }

// Name returns the primary engine's name.
func (e *ResilientEngine) Name() string { return e.primary.Name() }
