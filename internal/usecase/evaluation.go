package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/matcher"
	"github.com/example/faceeval/internal/metrics"
	"github.com/example/faceeval/internal/repository"
	"github.com/example/faceeval/internal/verification"
)

var (
	// ErrReportNotFound is returned when neither the cache nor the
	// repository knows the run.
	ErrReportNotFound = errors.New("usecase: report not found")

	// ErrInvalidRequest is returned when a run has no population roots.
	ErrInvalidRequest = errors.New("usecase: invalid run request")
)

// Verifier is the subset of verification.Verifier the use case drives.
type Verifier interface {
	Threshold() float64
	VerifyUser(ctx context.Context, claimed string, img matcher.Image) (bool, float64, error)
	VerifyPopulation(ctx context.Context, root string) (verification.Population, error)
}

// EvaluationRepository defines the persistence operations needed by the use case.
type EvaluationRepository interface {
	SaveRun(ctx context.Context, run *repository.EvaluationRun) error
	FindRun(ctx context.Context, runID string) (*repository.EvaluationRun, error)
	ListRuns(ctx context.Context, limit int) ([]repository.EvaluationRun, error)
}

// Defaults are used for run request fields left empty.
type Defaults struct {
	AuthorizedRoot   string
	UnauthorizedRoot string
	ReportTTL        time.Duration
}

// RunRequest selects the two populations to evaluate.
type RunRequest struct {
	AuthorizedRoot   string `json:"authorized_root,omitempty"`
	UnauthorizedRoot string `json:"unauthorized_root,omitempty"`
	Operator         string `json:"-"`
}

// Report is the complete outcome of one evaluation run.
type Report struct {
	RunID            string                  `json:"run_id"`
	Operator         string                  `json:"operator,omitempty"`
	AuthorizedRoot   string                  `json:"authorized_root"`
	UnauthorizedRoot string                  `json:"unauthorized_root"`
	CreatedAt        time.Time               `json:"created_at"`
	Summary          metrics.Summary         `json:"summary"`
	Authorized       verification.Population `json:"authorized"`
	Unauthorized     verification.Population `json:"unauthorized"`
}

// VerifyResult is the verdict for a single claimed identity.
type VerifyResult struct {
	Identity string                `json:"identity"`
	Granted  bool                  `json:"granted"`
	Distance verification.Distance `json:"distance"`
}

// EvaluationUseCase runs evaluations and serves their reports. The
// repository and cache are optional; a nil value disables that stage.
type EvaluationUseCase struct {
	verifier       Verifier
	repo           EvaluationRepository
	cache          Cache
	defaults       Defaults
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewEvaluationUseCase constructs a new use case instance.
func NewEvaluationUseCase(verifier Verifier, repo EvaluationRepository, cache Cache, defaults Defaults, logger *zap.Logger) *EvaluationUseCase {
	if defaults.ReportTTL <= 0 {
		defaults.ReportTTL = 24 * time.Hour
	}
	return &EvaluationUseCase{
		verifier:       verifier,
		repo:           repo,
		cache:          cache,
		defaults:       defaults,
		logger:         logger.Named("evaluation_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Threshold is the acceptance threshold reports are computed with.
func (uc *EvaluationUseCase) Threshold() float64 {
	return uc.verifier.Threshold()
}

// Run evaluates both populations, computes every measure and stores the
// report. No partial report is returned or stored when any stage fails.
func (uc *EvaluationUseCase) Run(ctx context.Context, req RunRequest) (*Report, error) {
	runID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.run_evaluation", runID)

	if req.AuthorizedRoot == "" {
		req.AuthorizedRoot = uc.defaults.AuthorizedRoot
	}
	if req.UnauthorizedRoot == "" {
		req.UnauthorizedRoot = uc.defaults.UnauthorizedRoot
	}
	if req.AuthorizedRoot == "" || req.UnauthorizedRoot == "" {
		return nil, logging.NewOperationError("usecase.run_evaluation", runID,
			fmt.Errorf("%w: both population roots are required", ErrInvalidRequest))
	}

	opLogger.Info("evaluation started",
		zap.String("authorized_root", req.AuthorizedRoot),
		zap.String("unauthorized_root", req.UnauthorizedRoot),
		zap.Float64("threshold", uc.verifier.Threshold()),
	)
	started := time.Now()

	authorized, err := uc.verifier.VerifyPopulation(ctx, req.AuthorizedRoot)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.verify_authorized", runID, err)
		opLogger.Error("authorized population failed", zap.Error(wrapped))
		return nil, wrapped
	}
	unauthorized, err := uc.verifier.VerifyPopulation(ctx, req.UnauthorizedRoot)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.verify_unauthorized", runID, err)
		opLogger.Error("unauthorized population failed", zap.Error(wrapped))
		return nil, wrapped
	}

	summary, err := metrics.Summarize(authorized, unauthorized, uc.verifier.Threshold())
	if err != nil {
		wrapped := logging.NewOperationError("usecase.summarize", runID, err)
		opLogger.Error("failed to compute metrics", zap.Error(wrapped))
		return nil, wrapped
	}

	report := &Report{
		RunID:            runID,
		Operator:         req.Operator,
		AuthorizedRoot:   req.AuthorizedRoot,
		UnauthorizedRoot: req.UnauthorizedRoot,
		CreatedAt:        uc.now(),
		Summary:          summary,
		Authorized:       authorized,
		Unauthorized:     unauthorized,
	}

	if uc.repo != nil {
		run, err := runFromReport(report)
		if err != nil {
			return nil, logging.NewOperationError("usecase.encode_run", runID, err)
		}
		if err := uc.repo.SaveRun(ctx, run); err != nil {
			wrapped := logging.NewOperationError("usecase.save_run", runID, err)
			opLogger.Error("failed to persist evaluation run", zap.Error(wrapped))
			return nil, wrapped
		}
	}

	if err := uc.cacheReport(ctx, report); err != nil {
		opLogger.Error("failed to cache evaluation report", zap.Error(err))
		return nil, err
	}

	opLogger.Info("evaluation finished",
		zap.Int("authorized", len(authorized)),
		zap.Int("unauthorized", len(unauthorized)),
		zap.Int("failures", authorized.FailureCount()+unauthorized.FailureCount()),
		zap.Float64("far", summary.FAR),
		zap.Float64("frr", summary.FRR),
		zap.Float64("auc", summary.AUC),
		zap.Duration("elapsed", time.Since(started)),
	)
	return report, nil
}

// GetReport retrieves a cached report or loads it from persistence.
func (uc *EvaluationUseCase) GetReport(ctx context.Context, runID string) (*Report, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_report", runID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, runID, "cache.get.report", reportKey(runID))
		switch {
		case err == nil:
			var report Report
			if err := json.Unmarshal([]byte(cached), &report); err != nil {
				opLogger.Warn("failed to decode cached report", zap.Error(err))
			} else {
				return &report, nil
			}
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, logging.NewOperationError("usecase.get_report", runID, ErrReportNotFound)
	}
	run, err := uc.repo.FindRun(ctx, runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, logging.NewOperationError("usecase.get_report", runID, ErrReportNotFound)
	}
	if err != nil {
		return nil, err
	}
	report, err := reportFromRun(run)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_run", runID, err)
	}

	if err := uc.cacheReport(ctx, report); err != nil {
		opLogger.Warn("failed to refill cache", zap.Error(err))
	}
	return report, nil
}

// VerifyUser checks a single claimed identity against the authorized gallery.
func (uc *EvaluationUseCase) VerifyUser(ctx context.Context, claimed string, img matcher.Image) (*VerifyResult, error) {
	granted, distance, err := uc.verifier.VerifyUser(ctx, claimed, img)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Identity: claimed,
		Granted:  granted,
		Distance: verification.Distance(distance),
	}, nil
}

func (uc *EvaluationUseCase) cacheReport(ctx context.Context, report *Report) error {
	if uc.cache == nil {
		return nil
	}
	serialized, err := json.Marshal(report)
	if err != nil {
		return logging.NewOperationError("usecase.encode_report", report.RunID, err)
	}
	return uc.withRedisRetry(ctx, report.RunID, "cache.set.report", func() error {
		return uc.cache.Set(ctx, reportKey(report.RunID), string(serialized), uc.defaults.ReportTTL)
	})
}

func runFromReport(report *Report) (*repository.EvaluationRun, error) {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return nil, err
	}
	run := &repository.EvaluationRun{
		RunID:                 report.RunID,
		Operator:              report.Operator,
		AuthorizedRoot:        report.AuthorizedRoot,
		UnauthorizedRoot:      report.UnauthorizedRoot,
		Threshold:             report.Summary.Threshold,
		AuthorizedGrantRate:   report.Summary.AuthorizedGrantRate,
		UnauthorizedGrantRate: report.Summary.UnauthorizedGrantRate,
		FAR:                   report.Summary.FAR,
		FRR:                   report.Summary.FRR,
		AUC:                   report.Summary.AUC,
		Summary:               string(summary),
		CreatedAt:             report.CreatedAt,
	}
	run.Records = append(
		repository.RecordRows(report.RunID, repository.PopulationAuthorized, report.Authorized),
		repository.RecordRows(report.RunID, repository.PopulationUnauthorized, report.Unauthorized)...,
	)
	return run, nil
}

func reportFromRun(run *repository.EvaluationRun) (*Report, error) {
	var summary metrics.Summary
	if err := json.Unmarshal([]byte(run.Summary), &summary); err != nil {
		return nil, err
	}
	authorized, unauthorized := run.Populations()
	return &Report{
		RunID:            run.RunID,
		Operator:         run.Operator,
		AuthorizedRoot:   run.AuthorizedRoot,
		UnauthorizedRoot: run.UnauthorizedRoot,
		CreatedAt:        run.CreatedAt,
		Summary:          summary,
		Authorized:       authorized,
		Unauthorized:     unauthorized,
	}, nil
}

func (uc *EvaluationUseCase) withRedisRetry(ctx context.Context, runID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, runID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, runID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, runID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, runID, err)
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, runID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, runID, err)
}

func (uc *EvaluationUseCase) withRedisGet(ctx context.Context, runID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, runID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
