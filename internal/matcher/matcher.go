// Package matcher defines the face matcher contract the evaluator consumes
// and a nearest-neighbour implementation over precomputed gallery
// embeddings. Embedding extraction itself is delegated to an Embedder.
package matcher

import (
	"context"
	"errors"
	"os"
)

var (
	// ErrNoFace indicates no face could be located in the image.
	ErrNoFace = errors.New("matcher: no face detected")

	// ErrMultipleFaces indicates more than one face was found where exactly
	// one is required.
	ErrMultipleFaces = errors.New("matcher: multiple faces detected")

	// ErrUndecodable indicates the image could not be read or decoded.
	ErrUndecodable = errors.New("matcher: image could not be decoded")

	// ErrUnavailable indicates the matcher backend cannot serve requests at
	// all. Unlike the errors above it is not specific to one image.
	ErrUnavailable = errors.New("matcher: backend unavailable")
)

// Image references a query or gallery image either on disk or in memory.
type Image struct {
	Path string
	Data []byte
}

// Name returns a printable reference for logs and records.
func (i Image) Name() string {
	if i.Path != "" {
		return i.Path
	}
	return "<memory>"
}

// Bytes returns the image content, reading it from disk when needed.
func (i Image) Bytes() ([]byte, error) {
	if i.Data != nil {
		return i.Data, nil
	}
	data, err := os.ReadFile(i.Path)
	if err != nil {
		return nil, errors.Join(ErrUndecodable, err)
	}
	return data, nil
}

// Candidate is one gallery hit. Identity is the gallery image path the hit
// came from; callers derive the identity label from it.
type Candidate struct {
	Identity string  `json:"identity"`
	Distance float64 `json:"distance"`
}

// FindRequest describes one search against a gallery.
type FindRequest struct {
	Image       Image
	GalleryRoot string
	Threshold   float64
	Metric      Metric

	// DetectionRequired makes a missing or ambiguous face an error. When
	// false such images produce an empty result instead.
	DetectionRequired bool
}

// Matcher searches a gallery and returns candidates within the threshold,
// best (lowest distance) first. An empty result means no match.
type Matcher interface {
	Find(ctx context.Context, req FindRequest) ([]Candidate, error)
}

// Loader is implemented by matchers that can load a gallery ahead of the
// first search.
type Loader interface {
	Load(ctx context.Context, root string) error
}

// Face is one detected face and its embedding.
type Face struct {
	Embedding  []float64
	Confidence float64
}

// Embedder extracts one embedding per face found in an image.
type Embedder interface {
	Represent(ctx context.Context, img Image) ([]Face, error)
}
