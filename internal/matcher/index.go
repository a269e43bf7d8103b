package matcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// IndexMatcher answers Find by brute-force nearest-neighbour search over
// gallery representations. Representations are loaded from the gallery's
// cache file, or built with the Embedder and cached on first use.
//
// A gallery that cannot be loaded or built, is empty, or does not match the
// query embedding dimension is reported as ErrUnavailable: no query can be
// answered against it.
//
// IndexMatcher is safe for concurrent use.
type IndexMatcher struct {
	embedder Embedder
	logger   *zap.Logger

	mu        sync.Mutex
	galleries map[string]*Representations
}

// NewIndexMatcher creates an IndexMatcher using embedder for queries and
// for galleries that have no cache yet.
func NewIndexMatcher(embedder Embedder, logger *zap.Logger) *IndexMatcher {
	return &IndexMatcher{
		embedder:  embedder,
		logger:    logger.Named("index_matcher"),
		galleries: make(map[string]*Representations),
	}
}

// Add registers precomputed representations for a gallery root.
func (m *IndexMatcher) Add(root string, reps *Representations) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.galleries[filepath.Clean(root)] = reps
}

// Load makes sure the gallery at root is loaded, building and caching its
// representations when no cache exists yet.
func (m *IndexMatcher) Load(ctx context.Context, root string) error {
	_, err := m.gallery(ctx, root)
	return err
}

// Find implements Matcher.
func (m *IndexMatcher) Find(ctx context.Context, req FindRequest) ([]Candidate, error) {
	reps, err := m.gallery(ctx, req.GalleryRoot)
	if err != nil {
		return nil, err
	}

	faces, err := m.embedder.Represent(ctx, req.Image)
	if err != nil {
		if errors.Is(err, ErrNoFace) && !req.DetectionRequired {
			return nil, nil
		}
		return nil, err
	}
	switch {
	case len(faces) == 0:
		if req.DetectionRequired {
			return nil, ErrNoFace
		}
		return nil, nil
	case len(faces) > 1:
		return nil, ErrMultipleFaces
	}

	query := faces[0].Embedding
	var candidates []Candidate
	for _, entry := range reps.Entries {
		d, err := req.Metric.Distance(query, entry.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: compare with %s: %w", ErrUnavailable, entry.Identity, err)
		}
		if d <= req.Threshold {
			candidates = append(candidates, Candidate{Identity: entry.Identity, Distance: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	return candidates, nil
}

func (m *IndexMatcher) gallery(ctx context.Context, root string) (*Representations, error) {
	root = filepath.Clean(root)

	m.mu.Lock()
	defer m.mu.Unlock()

	if reps, ok := m.galleries[root]; ok {
		return reps, nil
	}

	reps, err := m.loadGallery(ctx, root)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: gallery %s: %w", ErrUnavailable, root, err)
		}
		return nil, err
	}
	if len(reps.Entries) == 0 {
		return nil, fmt.Errorf("%w: gallery %s has no representations", ErrUnavailable, root)
	}

	m.galleries[root] = reps
	return reps, nil
}

func (m *IndexMatcher) loadGallery(ctx context.Context, root string) (*Representations, error) {
	cache := filepath.Join(root, RepresentationsFile)
	reps, err := LoadRepresentations(cache)
	switch {
	case err == nil:
		m.logger.Info("loaded gallery representations", zap.String("path", cache), zap.Int("entries", len(reps.Entries)))
	case errors.Is(err, fs.ErrNotExist):
		reps, err = BuildRepresentations(ctx, m.embedder, root, m.logger)
		if err != nil {
			return nil, err
		}
		if err := SaveRepresentations(cache, reps); err != nil {
			m.logger.Warn("could not cache gallery representations", zap.String("path", cache), zap.Error(err))
		}
	default:
		return nil, err
	}
	return reps, nil
}
