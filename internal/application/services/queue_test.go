package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osqr/memvault/internal/adapters/id"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
)

func okSynthesize(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error) {
	return &models.SynthesisResult{ConversationID: job.ConversationID}, nil
}

// expireBackoffs clears the retry delays so tests never sleep.
func expireBackoffs(q *SynthesisQueue) {
	q.mu.Lock()
	for _, entry := range q.pending {
		entry.notBefore = time.Time{}
	}
	q.mu.Unlock()
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	var order []string
	q := NewSynthesisQueue(id.New(), func(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error) {
		order = append(order, job.ConversationID)
		return &models.SynthesisResult{}, nil
	})

	q.Enqueue("user-1", "conv-low", models.PriorityLow)
	q.Enqueue("user-1", "conv-normal-1", models.PriorityNormal)
	q.Enqueue("user-1", "conv-high", models.PriorityHigh)
	q.Enqueue("user-1", "conv-normal-2", models.PriorityNormal)

	if q.Depth() != 4 {
		t.Fatalf("expected depth 4, got %d", q.Depth())
	}

	if _, err := q.ProcessAll(context.Background(), 10); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	want := []string{"conv-high", "conv-normal-1", "conv-normal-2", "conv-low"}
	if len(order) != len(want) {
		t.Fatalf("expected %d jobs processed, got %d", len(want), len(order))
	}
	for i, conv := range want {
		if order[i] != conv {
			t.Errorf("position %d: expected %s, got %s", i, conv, order[i])
		}
	}
}

func TestEnqueueDeduplicatesByConversation(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)

	first, err := q.Enqueue("user-1", "conv-1", models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := q.Enqueue("user-1", "conv-1", models.PriorityHigh)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if first.ID != second.ID {
		t.Error("pending conversation should return the existing job")
	}
	if q.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", q.Depth())
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)

	if _, err := q.Enqueue("user-1", "", models.PriorityNormal); !errors.Is(err, domain.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}

	// Unknown priorities fall back to normal.
	job, err := q.Enqueue("user-1", "conv-1", "urgent")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Priority != models.PriorityNormal {
		t.Errorf("expected normal priority fallback, got %s", job.Priority)
	}
}

func TestProcessNextCompletesJob(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)
	events := q.Subscribe()

	job, _ := q.Enqueue("user-1", "conv-1", models.PriorityNormal)

	ran, err := q.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	if !ran {
		t.Fatal("expected a job to run")
	}

	got, err := q.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}
	if got.Result == nil || got.Result.ConversationID != "conv-1" {
		t.Error("expected the synthesis result attached to the job")
	}

	drained := map[QueueEventType]bool{}
	for len(events) > 0 {
		drained[(<-events).Type] = true
	}
	if !drained[EventEnqueued] || !drained[EventCompleted] {
		t.Errorf("expected enqueued and completed events, got %v", drained)
	}
}

func TestProcessNextWithEmptyQueue(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)

	ran, err := q.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	if ran {
		t.Error("expected nothing to run on an empty queue")
	}
}

func TestFailedJobRetriesThenSucceeds(t *testing.T) {
	failures := 2
	q := NewSynthesisQueue(id.New(), func(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("llm unavailable")
		}
		return &models.SynthesisResult{ConversationID: job.ConversationID}, nil
	})

	job, _ := q.Enqueue("user-1", "conv-1", models.PriorityNormal)

	// First attempt fails and requeues with backoff.
	if ran, _ := q.ProcessNext(context.Background()); !ran {
		t.Fatal("expected the first attempt to run")
	}
	got, _ := q.GetJob(job.ID)
	if got.Status != models.JobPending {
		t.Fatalf("expected pending after first failure, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("expected the failure recorded on the job")
	}

	// Backoff holds the job back until its delay elapses.
	if ran, _ := q.ProcessNext(context.Background()); ran {
		t.Fatal("job should not be due during backoff")
	}

	expireBackoffs(q)
	if ran, _ := q.ProcessNext(context.Background()); !ran {
		t.Fatal("expected the second attempt to run")
	}

	expireBackoffs(q)
	if ran, _ := q.ProcessNext(context.Background()); !ran {
		t.Fatal("expected the third attempt to run")
	}

	got, _ = q.GetJob(job.ID)
	if got.Status != models.JobCompleted {
		t.Errorf("expected completed after retries, got %s", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", got.Attempts)
	}
}

func TestJobFailsPermanentlyAfterMaxAttempts(t *testing.T) {
	q := NewSynthesisQueue(id.New(), func(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error) {
		return nil, errors.New("llm unavailable")
	})

	job, _ := q.Enqueue("user-1", "conv-1", models.PriorityNormal)

	for i := 0; i < job.MaxAttempts; i++ {
		expireBackoffs(q)
		if ran, _ := q.ProcessNext(context.Background()); !ran {
			t.Fatalf("expected attempt %d to run", i+1)
		}
	}

	got, _ := q.GetJob(job.ID)
	if got.Status != models.JobFailed {
		t.Errorf("expected failed after exhausting attempts, got %s", got.Status)
	}
	if q.Depth() != 0 {
		t.Errorf("failed job should leave the queue, depth %d", q.Depth())
	}

	// A failed conversation can be enqueued again.
	fresh, err := q.Enqueue("user-1", "conv-1", models.PriorityNormal)
	if err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	if fresh.ID == job.ID {
		t.Error("expected a fresh job after permanent failure")
	}
}

func TestGetJobUnknownID(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)

	if _, err := q.GetJob("job-missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestProcessAllRespectsContext(t *testing.T) {
	q := NewSynthesisQueue(id.New(), okSynthesize)
	q.Enqueue("user-1", "conv-1", models.PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := q.ProcessAll(ctx, 10)
	if err == nil {
		t.Error("expected a context error")
	}
	if processed != 0 {
		t.Errorf("expected no jobs processed, got %d", processed)
	}
}
