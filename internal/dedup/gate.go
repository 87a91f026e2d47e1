// Package dedup guards the pipeline so each media item is processed at most
// once, keyed by its content fingerprint.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"comprobantes/internal/cache"
	"comprobantes/internal/core"
	"comprobantes/internal/storage"
)

// Observation is the result of presenting a MediaRef to the gate.
type Observation struct {
	Duplicate   bool
	FirstSeenAt time.Time
}

type Gate struct {
	store  storage.SeenStore
	cache  cache.Cache[time.Time]
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Gate)

// WithClock overrides the registration clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithCache remembers refs already known to be seen. Entries never become
// unseen, so any cache is safe.
func WithCache(c cache.Cache[time.Time]) Option {
	return func(g *Gate) { g.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func NewGate(store storage.SeenStore, opts ...Option) *Gate {
	g := &Gate{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Observe registers ref on first sight and reports later sights as
// duplicates carrying the original first-seen time. A duplicate has no side
// effects.
func (g *Gate) Observe(ctx context.Context, ref core.MediaRef) (Observation, error) {
	if g.cache != nil {
		if at, ok := g.cache.Get(string(ref)); ok {
			return Observation{Duplicate: true, FirstSeenAt: at}, nil
		}
	}

	doc, err := g.store.LoadSeen(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrCorruptState) {
			return Observation{}, fmt.Errorf("load seen registry: %w", err)
		}
		// Prior registrations are lost; items seen before may be reprocessed.
		g.logger.WarnContext(ctx, "Seen registry corrupt, starting empty",
			"component", "dedup", "error", err)
	}
	if doc.Seen == nil {
		doc = storage.NewSeenDocument()
	}

	if at, ok := doc.Seen[ref]; ok {
		g.remember(ref, at)
		return Observation{Duplicate: true, FirstSeenAt: at}, nil
	}

	// Millisecond precision survives every backend's encoding.
	now := g.now().UTC().Truncate(time.Millisecond)
	doc.Seen[ref] = now
	if err := g.store.SaveSeen(ctx, doc); err != nil {
		return Observation{}, fmt.Errorf("save seen registry: %w", err)
	}
	g.remember(ref, now)

	g.logger.DebugContext(ctx, "Media registered", "component", "dedup", "media_ref", string(ref))
	return Observation{FirstSeenAt: now}, nil
}

func (g *Gate) remember(ref core.MediaRef, at time.Time) {
	if g.cache != nil {
		g.cache.Set(string(ref), at)
	}
}
