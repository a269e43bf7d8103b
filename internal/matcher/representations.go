package matcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/example/faceeval/internal/gallery"
)

// RepresentationsFile is the cache file written at the root of a gallery.
const RepresentationsFile = "representations.cbor"

const representationsVersion = 1

// Representation is the embedding of one gallery image.
type Representation struct {
	Identity  string    `cbor:"1,keyasint"`
	Embedding []float64 `cbor:"2,keyasint"`
}

// Representations is the embedded form of a whole gallery.
type Representations struct {
	Version   int              `cbor:"1,keyasint"`
	Root      string           `cbor:"2,keyasint"`
	CreatedAt time.Time        `cbor:"3,keyasint"`
	Entries   []Representation `cbor:"4,keyasint"`
}

// BuildRepresentations embeds every image under root. Images without
// exactly one face, or that fail to decode, are skipped with a warning.
// Backend unavailability and cancellation abort the build.
func BuildRepresentations(ctx context.Context, embedder Embedder, root string, logger *zap.Logger) (*Representations, error) {
	paths, err := gallery.ImageFiles(root)
	if err != nil {
		return nil, err
	}

	reps := &Representations{
		Version:   representationsVersion,
		Root:      root,
		CreatedAt: time.Now().UTC(),
		Entries:   make([]Representation, 0, len(paths)),
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		faces, err := embedder.Represent(ctx, Image{Path: path})
		if err != nil {
			if errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
				return nil, fmt.Errorf("represent %s: %w", path, err)
			}
			logger.Warn("skipping gallery image", zap.String("path", path), zap.Error(err))
			continue
		}
		if len(faces) != 1 {
			logger.Warn("skipping gallery image", zap.String("path", path), zap.Int("faces", len(faces)))
			continue
		}
		reps.Entries = append(reps.Entries, Representation{Identity: path, Embedding: faces[0].Embedding})
	}

	logger.Info("gallery represented",
		zap.String("root", root),
		zap.Int("images", len(paths)),
		zap.Int("entries", len(reps.Entries)),
	)
	return reps, nil
}

// SaveRepresentations writes reps to path atomically.
func SaveRepresentations(path string, reps *Representations) error {
	data, err := cbor.Marshal(reps)
	if err != nil {
		return fmt.Errorf("encode representations: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".representations-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write representations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close representations: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadRepresentations reads a cache written by SaveRepresentations.
func LoadRepresentations(path string) (*Representations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reps Representations
	if err := cbor.Unmarshal(data, &reps); err != nil {
		return nil, fmt.Errorf("decode representations %s: %w", path, err)
	}
	if reps.Version != representationsVersion {
		return nil, fmt.Errorf("representations %s: unsupported version %d", path, reps.Version)
	}
	return &reps, nil
}
