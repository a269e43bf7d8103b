package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/verification"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("repository: evaluation run not found")

// Population labels stored on record rows.
const (
	PopulationAuthorized   = "authorized"
	PopulationUnauthorized = "unauthorized"
)

// EvaluationRun is a persisted evaluation run with its headline measures.
// The full summary, including the ROC curve, is kept as JSON in Summary.
type EvaluationRun struct {
	ID                    uint        `gorm:"primaryKey"`
	RunID                 string      `gorm:"column:run_id;uniqueIndex;size:64"`
	Operator              string      `gorm:"column:operator;size:64"`
	AuthorizedRoot        string      `gorm:"column:authorized_root;type:text"`
	UnauthorizedRoot      string      `gorm:"column:unauthorized_root;type:text"`
	Threshold             float64     `gorm:"column:threshold"`
	AuthorizedGrantRate   float64     `gorm:"column:authorized_grant_rate"`
	UnauthorizedGrantRate float64     `gorm:"column:unauthorized_grant_rate"`
	FAR                   float64     `gorm:"column:far"`
	FRR                   float64     `gorm:"column:frr"`
	AUC                   float64     `gorm:"column:auc"`
	Summary               string      `gorm:"column:summary;type:text"`
	CreatedAt             time.Time   `gorm:"column:created_at;index"`
	Records               []RecordRow `gorm:"foreignKey:RunID;references:RunID"`
}

// TableName overrides the default table name.
func (EvaluationRun) TableName() string {
	return "evaluation_runs"
}

// RecordRow is one evaluated query. Distance is NULL when nothing matched.
type RecordRow struct {
	ID         uint     `gorm:"primaryKey"`
	RunID      string   `gorm:"column:run_id;index:idx_record_run_position,priority:1;size:64"`
	Population string   `gorm:"column:population;index:idx_record_run_position,priority:2;size:16"`
	Position   int      `gorm:"column:position;index:idx_record_run_position,priority:3"`
	ImagePath  string   `gorm:"column:image_path;type:text"`
	Claimed    string   `gorm:"column:claimed_identity;size:255"`
	Predicted  string   `gorm:"column:predicted_identity;size:255"`
	Granted    bool     `gorm:"column:granted"`
	Distance   *float64 `gorm:"column:distance"`
	Failure    string   `gorm:"column:failure;size:32"`
}

// TableName overrides the default table name.
func (RecordRow) TableName() string {
	return "evaluation_records"
}

// RecordRows converts a population into rows, keeping listing order in
// Position.
func RecordRows(runID, population string, p verification.Population) []RecordRow {
	rows := make([]RecordRow, len(p))
	for i, r := range p {
		rows[i] = RecordRow{
			RunID:      runID,
			Population: population,
			Position:   i,
			ImagePath:  r.Image,
			Claimed:    r.Claimed,
			Predicted:  r.Predicted,
			Granted:    r.Granted,
			Failure:    r.Failure,
		}
		if !math.IsInf(float64(r.Distance), 1) {
			d := float64(r.Distance)
			rows[i].Distance = &d
		}
	}
	return rows
}

// Record converts a row back into an evaluation record.
func (r RecordRow) Record() verification.Record {
	rec := verification.Record{
		Image:     r.ImagePath,
		Claimed:   r.Claimed,
		Predicted: r.Predicted,
		Granted:   r.Granted,
		Distance:  verification.NoMatchDistance,
		Failure:   r.Failure,
	}
	if r.Distance != nil {
		rec.Distance = verification.Distance(*r.Distance)
	}
	return rec
}

// Populations splits the run's rows back into the two ordered populations.
func (r *EvaluationRun) Populations() (authorized, unauthorized verification.Population) {
	for _, row := range r.Records {
		switch row.Population {
		case PopulationAuthorized:
			authorized = append(authorized, row.Record())
		case PopulationUnauthorized:
			unauthorized = append(unauthorized, row.Record())
		}
	}
	return authorized, unauthorized
}

// EvaluationRepository provides persistence APIs for evaluation runs.
type EvaluationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	batchSize      int
}

// NewEvaluationRepository creates a new repository instance.
func NewEvaluationRepository(db *gorm.DB, logger *zap.Logger) *EvaluationRepository {
	return &EvaluationRepository{
		db:             db,
		logger:         logger.Named("evaluation_repository"),
		retryAttempts:  3,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     2 * time.Second,
		batchSize:      500,
	}
}

// AutoMigrate ensures the schema is available.
func (r *EvaluationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&EvaluationRun{}, &RecordRow{})
	})
}

// SaveRun persists a run and all of its records in one transaction.
func (r *EvaluationRepository) SaveRun(ctx context.Context, run *EvaluationRun) error {
	return r.executeWithRetry(ctx, "repository.save_run", run.RunID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit(clause.Associations).Create(run).Error; err != nil {
				return err
			}
			if len(run.Records) == 0 {
				return nil
			}
			return tx.CreateInBatches(run.Records, r.batchSize).Error
		})
	})
}

// FindRun loads a run with its records in listing order.
func (r *EvaluationRepository) FindRun(ctx context.Context, runID string) (*EvaluationRun, error) {
	var run EvaluationRun
	err := r.executeWithRetry(ctx, "repository.find_run", runID, func() error {
		return r.db.WithContext(ctx).
			Preload("Records", func(db *gorm.DB) *gorm.DB {
				return db.Order("population ASC, position ASC")
			}).
			First(&run, "run_id = ?", runID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, logging.NewOperationError("repository.find_run", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs without their records.
func (r *EvaluationRepository) ListRuns(ctx context.Context, limit int) ([]EvaluationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []EvaluationRun
	err := r.executeWithRetry(ctx, "repository.list_runs", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *EvaluationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
