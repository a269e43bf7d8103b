// Package bootstrap assembles the matcher and verifier described by a
// config.Config. It is shared by the HTTP service and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/example/faceeval/internal/config"
	"github.com/example/faceeval/internal/grpcclient"
	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/matcher"
	"github.com/example/faceeval/internal/verification"
)

// Runtime holds the live evaluation components.
type Runtime struct {
	FaceService *grpcclient.FaceService
	Matcher     matcher.Matcher
	Verifier    *verification.Verifier
}

// Start dials the face service and builds the configured matcher backend
// and a verifier over the authorized gallery, which is warmed up before
// Start returns.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...verification.Option) (*Runtime, error) {
	service, err := grpcclient.DialFaceService(ctx, cfg.Matcher.Address, cfg.Matcher.DialTimeout, logger)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{FaceService: service}
	switch cfg.Matcher.Backend {
	case "grpc":
		rt.Matcher = service
	default:
		rt.Matcher = matcher.NewIndexMatcher(service, logger)
	}

	if err := rt.prepare(ctx, cfg, logger, opts...); err != nil {
		_ = service.Close()
		return nil, err
	}
	logger.Info("evaluation runtime ready",
		zap.String("backend", cfg.Matcher.Backend),
		zap.String("metric", cfg.Matcher.Metric),
		zap.Float64("threshold", cfg.AcceptanceThreshold),
		zap.String("gallery", cfg.AuthorizedGallery()),
	)
	return rt, nil
}

// prepare builds the verifier over rt.Matcher and warms the gallery up.
func (rt *Runtime) prepare(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...verification.Option) error {
	v, err := NewVerifier(rt.Matcher, cfg, logger, opts...)
	if err != nil {
		return err
	}
	if err := v.Warmup(ctx, matcher.Image{Path: cfg.Matcher.WarmupImage}); err != nil {
		return err
	}
	rt.Verifier = v
	return nil
}

// NewVerifier builds a verifier for m from cfg.
func NewVerifier(m matcher.Matcher, cfg *config.Config, logger *zap.Logger, opts ...verification.Option) (*verification.Verifier, error) {
	metric, err := matcher.ParseMetric(cfg.Matcher.Metric)
	if err != nil {
		return nil, err
	}
	labeler, err := cfg.Labeler()
	if err != nil {
		return nil, err
	}
	return verification.NewVerifier(m, verification.Config{
		GalleryRoot: cfg.AuthorizedGallery(),
		Threshold:   cfg.AcceptanceThreshold,
		Metric:      metric,
		Labeler:     labeler,
		Workers:     cfg.Workers,
	}, logger, opts...)
}

// Close releases the face service connection.
func (r *Runtime) Close() error {
	if r == nil || r.FaceService == nil {
		return nil
	}
	return r.FaceService.Close()
}

// BuildIndex embeds every image of the authorized gallery and writes the
// representation cache the index matcher loads. It returns the cache path.
func BuildIndex(ctx context.Context, embedder matcher.Embedder, cfg *config.Config, logger *zap.Logger) (string, int, error) {
	root := cfg.AuthorizedGallery()
	reps, err := matcher.BuildRepresentations(ctx, embedder, root, logger)
	if err != nil {
		return "", 0, logging.NewOperationError("bootstrap.build_index", "", err)
	}
	path := filepath.Join(root, matcher.RepresentationsFile)
	if err := matcher.SaveRepresentations(path, reps); err != nil {
		return "", 0, logging.NewOperationError("bootstrap.save_index", "", fmt.Errorf("%s: %w", path, err))
	}
	return path, len(reps.Entries), nil
}
