package repository

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/verification"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testRepository(attempts int) *EvaluationRepository {
	return &EvaluationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  attempts,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "run-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := testRepository(2)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "run-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "run-2" {
		t.Fatalf("unexpected run id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryGivesUpAfterLastAttempt(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "run-3", func() error {
		attempts++
		return transientTestError{}
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryDoesNotRetryNotFound(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "run-4", func() error {
		attempts++
		return gorm.ErrRecordNotFound
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteWithRetryStopsOnCancelledContext(t *testing.T) {
	repo := testRepository(3)
	ctx, cancel := context.WithCancel(context.Background())

	err := repo.executeWithRetry(ctx, "test.operation", "run-5", func() error {
		cancel()
		return transientTestError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecordRowsRoundTrip(t *testing.T) {
	population := verification.Population{
		{Image: "in/alice/1.jpg", Claimed: "alice", Predicted: "alice", Granted: true, Distance: 0.21},
		{Image: "in/bob/1.jpg", Claimed: "bob", Distance: verification.NoMatchDistance, Failure: verification.FailureNoFace},
	}

	rows := RecordRows("run-1", PopulationAuthorized, population)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Distance == nil || *rows[0].Distance != 0.21 {
		t.Fatalf("finite distance not stored: %+v", rows[0])
	}
	if rows[1].Distance != nil {
		t.Fatalf("no-match distance must be NULL, got %v", *rows[1].Distance)
	}
	if rows[1].Position != 1 || rows[1].RunID != "run-1" {
		t.Fatalf("unexpected row metadata: %+v", rows[1])
	}

	back := rows[1].Record()
	if !math.IsInf(float64(back.Distance), 1) || back.Failure != verification.FailureNoFace {
		t.Fatalf("unexpected record: %+v", back)
	}
	if rows[0].Record() != population[0] {
		t.Fatalf("round trip changed record: %+v", rows[0].Record())
	}
}

func TestPopulationsSplitsRows(t *testing.T) {
	auth := verification.Population{{Image: "a1", Claimed: "a", Granted: true, Distance: 0.1}}
	unauth := verification.Population{
		{Image: "u1", Claimed: "x", Distance: 0.7},
		{Image: "u2", Claimed: "y", Distance: verification.NoMatchDistance},
	}
	run := &EvaluationRun{RunID: "run-1"}
	run.Records = append(RecordRows("run-1", PopulationAuthorized, auth), RecordRows("run-1", PopulationUnauthorized, unauth)...)

	gotAuth, gotUnauth := run.Populations()
	if len(gotAuth) != 1 || len(gotUnauth) != 2 {
		t.Fatalf("unexpected split: %d authorized, %d unauthorized", len(gotAuth), len(gotUnauth))
	}
	if gotUnauth[0].Image != "u1" || gotUnauth[1].Image != "u2" {
		t.Fatalf("order not preserved: %+v", gotUnauth)
	}
}
