// Package resolver downloads the images embedded in a note.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mixport/internal/imaging"
	"github.com/starford/mixport/internal/retry"
)

// Fetcher downloads the raw bytes of one image.
type Fetcher interface {
	FetchImage(ctx context.Context, id string) ([]byte, error)
}

// Resolver fetches and normalizes images. A failed image is reported as
// missing and never fails the caller.
type Resolver struct {
	fetch       Fetcher
	policy      retry.Policy
	concurrency int
	logger      *slog.Logger
}

// New creates a Resolver. concurrency < 1 means one image at a time.
func New(fetch Fetcher, policy retry.Policy, concurrency int, logger *slog.Logger) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetch: fetch, policy: policy, concurrency: concurrency, logger: logger}
}

// Resolve returns the PNG bytes for id, or nil if every attempt failed.
// A panic while fetching or decoding counts as a failed attempt.
func (r *Resolver) Resolve(ctx context.Context, id string) []byte {
	data, err := retry.Do(ctx, r.policy, func(ctx context.Context) (_ []byte, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("resolver: image %s: panic: %v", id, p)
			}
		}()
		raw, err := r.fetch.FetchImage(ctx, id)
		if err != nil {
			return nil, err
		}
		out, err := imaging.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("resolver: normalize %s: %w", id, err)
		}
		return out, nil
	})
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("resolver: image unavailable",
				slog.String("image_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return data
}

// ResolveAll resolves ids concurrently and returns once all have settled.
// The result holds only the ids that resolved.
func (r *Resolver) ResolveAll(ctx context.Context, ids []string) map[string][]byte {
	out := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return out
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			data := r.Resolve(ctx, id)
			if data == nil {
				return nil
			}
			mu.Lock()
			out[id] = data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
