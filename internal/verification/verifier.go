// Package verification turns matcher results into access decisions, for a
// single query or for a whole labelled population.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/faceeval/internal/gallery"
	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/matcher"
)

// ErrInvalidConfig is returned by NewVerifier for unusable settings.
var ErrInvalidConfig = errors.New("verification: invalid config")

// Config is the per-run evaluation setup. It is copied into the Verifier,
// so one Verifier always decides with the threshold it was built with.
type Config struct {
	GalleryRoot string
	Threshold   float64
	Metric      matcher.Metric
	Labeler     gallery.Labeler

	// Workers bounds concurrent matcher calls in VerifyPopulation. Values
	// below 2 evaluate sequentially.
	Workers int
}

// ProgressFunc observes batch progress. It may be called from several
// goroutines but never concurrently.
type ProgressFunc func(done, total int)

// Option configures a Verifier.
type Option func(*Verifier)

// WithProgress registers a progress observer for VerifyPopulation.
func WithProgress(fn ProgressFunc) Option {
	return func(v *Verifier) {
		v.progress = fn
	}
}

// Verifier applies the decision rule against one gallery.
type Verifier struct {
	matcher  matcher.Matcher
	cfg      Config
	logger   *zap.Logger
	progress ProgressFunc
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(m matcher.Matcher, cfg Config, logger *zap.Logger, opts ...Option) (*Verifier, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: matcher is required", ErrInvalidConfig)
	}
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must be non-negative, got %v", ErrInvalidConfig, cfg.Threshold)
	}
	if cfg.Labeler == nil {
		return nil, fmt.Errorf("%w: labeler is required", ErrInvalidConfig)
	}
	if cfg.GalleryRoot == "" {
		return nil, fmt.Errorf("%w: gallery root is required", ErrInvalidConfig)
	}
	if cfg.Metric == "" {
		cfg.Metric = matcher.Cosine
	}

	v := &Verifier{
		matcher: m,
		cfg:     cfg,
		logger:  logger.Named("verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Threshold returns the acceptance threshold this Verifier decides with.
func (v *Verifier) Threshold() float64 {
	return v.cfg.Threshold
}

// VerifyUser decides whether img grants access to claimed. A query without
// a usable face is denied with +Inf distance and no error; an error is only
// returned when the matcher itself is unavailable or ctx is done.
func (v *Verifier) VerifyUser(ctx context.Context, claimed string, img matcher.Image) (bool, float64, error) {
	rec, err := v.evaluate(ctx, claimed, img)
	if err != nil {
		return false, math.Inf(1), err
	}
	return rec.Granted, float64(rec.Distance), nil
}

// VerifyPopulation evaluates every root/<identity>/<image> query, claiming
// the identity named by the directory. Records come back in listing order
// regardless of Workers.
func (v *Verifier) VerifyPopulation(ctx context.Context, root string) (Population, error) {
	queries, err := gallery.ListPopulation(root)
	if err != nil {
		return nil, logging.NewOperationError("verification.list_population", "", err)
	}

	logger := v.logger.With(zap.String("population", root))
	logger.Info("evaluating population", zap.Int("queries", len(queries)), zap.Int("workers", v.cfg.Workers))

	records := make(Population, len(queries))
	counter := &progressCounter{total: len(queries), fn: v.progress, logger: logger}

	if v.cfg.Workers < 2 {
		for i, q := range queries {
			rec, err := v.evaluate(ctx, q.Identity, matcher.Image{Path: q.Path})
			if err != nil {
				return nil, err
			}
			records[i] = rec
			counter.advance()
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.cfg.Workers)
		for i, q := range queries {
			g.Go(func() error {
				rec, err := v.evaluate(gctx, q.Identity, matcher.Image{Path: q.Path})
				if err != nil {
					return err
				}
				records[i] = rec
				counter.advance()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	logger.Info("population evaluated",
		zap.Int("queries", len(records)),
		zap.Int("granted", records.GrantedCount()),
		zap.Int("failures", records.FailureCount()),
	)
	return records, nil
}

// Warmup readies the matcher before timed work starts. A matcher.Loader
// loads the gallery directly. Otherwise, when sample names an image, one
// search is issued so the backend loads or builds its representations.
// Failures that concern only the sample image are ignored.
func (v *Verifier) Warmup(ctx context.Context, sample matcher.Image) error {
	if l, ok := v.matcher.(matcher.Loader); ok {
		if err := l.Load(ctx, v.cfg.GalleryRoot); err != nil {
			return logging.NewSubjectError("verification.warmup", "", v.cfg.GalleryRoot, err)
		}
		return nil
	}
	if sample.Path == "" && sample.Data == nil {
		return nil
	}
	if _, err := v.matcher.Find(ctx, v.request(sample)); err != nil && isFatal(ctx, err) {
		return logging.NewSubjectError("verification.warmup", "", sample.Name(), err)
	}
	return nil
}

func (v *Verifier) request(img matcher.Image) matcher.FindRequest {
	return matcher.FindRequest{
		Image:             img,
		GalleryRoot:       v.cfg.GalleryRoot,
		Threshold:         v.cfg.Threshold,
		Metric:            v.cfg.Metric,
		DetectionRequired: false,
	}
}

func (v *Verifier) evaluate(ctx context.Context, claimed string, img matcher.Image) (Record, error) {
	rec := Record{Image: img.Name(), Claimed: claimed}

	candidates, err := v.matcher.Find(ctx, v.request(img))
	if err != nil {
		if isFatal(ctx, err) {
			return rec, logging.NewSubjectError("verification.find", "", img.Name(), err)
		}
		rec.Distance = NoMatchDistance
		rec.Failure = failureReason(err)
		v.logger.Debug("query degraded to no match",
			zap.String("image", img.Name()),
			zap.String("failure", rec.Failure),
			zap.Error(err),
		)
		return rec, nil
	}

	res, err := ResultFromCandidates(candidates, v.cfg.Labeler)
	if err != nil {
		return rec, logging.NewSubjectError("verification.label", "", img.Name(), err)
	}

	d := Decide(claimed, res)
	rec.Predicted = res.Identity
	rec.Granted = d.Granted
	rec.Distance = Distance(d.Distance)
	v.logger.Debug("query decided",
		zap.String("image", img.Name()),
		zap.String("claimed", claimed),
		zap.String("predicted", res.Identity),
		zap.Bool("granted", d.Granted),
		zap.Float64("distance", d.Distance),
	)
	return rec, nil
}

// isFatal separates a broken matcher (or a cancelled run) from failures
// that concern only the current image.
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, matcher.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, matcher.ErrNoFace):
		return FailureNoFace
	case errors.Is(err, matcher.ErrMultipleFaces):
		return FailureMultipleFaces
	case errors.Is(err, matcher.ErrUndecodable):
		return FailureUndecodable
	default:
		return FailureMatcher
	}
}

type progressCounter struct {
	mu     sync.Mutex
	done   int
	total  int
	fn     ProgressFunc
	logger *zap.Logger
}

func (p *progressCounter) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
	if p.done%100 == 0 {
		p.logger.Debug("progress", zap.Int("done", p.done), zap.Int("total", p.total))
	}
}
