package services

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

const requeueBaseDelay = time.Second

// QueueEventType labels synthesis queue lifecycle events.
type QueueEventType string

const (
	EventEnqueued  QueueEventType = "enqueued"
	EventCompleted QueueEventType = "completed"
	EventFailed    QueueEventType = "failed"
	EventRequeued  QueueEventType = "requeued"
)

// QueueEvent notifies subscribers of a job's progress.
type QueueEvent struct {
	Type QueueEventType       `json:"type"`
	Job  *models.SynthesisJob `json:"job"`
}

// SynthesizeFunc runs one synthesis job and returns its result.
type SynthesizeFunc func(ctx context.Context, job *models.SynthesisJob) (*models.SynthesisResult, error)

type queueEntry struct {
	job       *models.SynthesisJob
	notBefore time.Time
}

// SynthesisQueue is the priority FIFO feeding conversations into the
// extractor. High-priority jobs go to the front, low to the back, normal
// ahead of the first low entry. Failed attempts requeue with exponential
// delay until MaxAttempts is exhausted.
type SynthesisQueue struct {
	ids        ports.IDGenerator
	synthesize SynthesizeFunc

	mu          sync.Mutex
	pending     []*queueEntry
	jobs        map[string]*models.SynthesisJob
	subscribers []chan QueueEvent
}

func NewSynthesisQueue(ids ports.IDGenerator, synthesize SynthesizeFunc) *SynthesisQueue {
	return &SynthesisQueue{
		ids:        ids,
		synthesize: synthesize,
		jobs:       make(map[string]*models.SynthesisJob),
	}
}

// Enqueue adds a synthesis job for a conversation. A conversation with a
// job already pending or processing gets the existing job back.
func (q *SynthesisQueue) Enqueue(userID, conversationID string, priority models.JobPriority) (*models.SynthesisJob, error) {
	if conversationID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidID, "conversation id cannot be empty")
	}
	switch priority {
	case models.PriorityHigh, models.PriorityNormal, models.PriorityLow:
	default:
		priority = models.PriorityNormal
	}

	q.mu.Lock()

	for _, job := range q.jobs {
		if job.ConversationID == conversationID &&
			(job.Status == models.JobPending || job.Status == models.JobProcessing) {
			q.mu.Unlock()
			return job, nil
		}
	}

	job := models.NewSynthesisJob(q.ids.GenerateJobID(), conversationID, userID, priority)
	q.jobs[job.ID] = job
	q.insertLocked(&queueEntry{job: job})
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.SynthesisQueueDepth.Set(float64(depth))
	q.publish(QueueEvent{Type: EventEnqueued, Job: job})
	return job, nil
}

// insertLocked places an entry according to priority: high at the front,
// low at the back, normal just before the first low entry.
func (q *SynthesisQueue) insertLocked(entry *queueEntry) {
	switch entry.job.Priority {
	case models.PriorityHigh:
		q.pending = append([]*queueEntry{entry}, q.pending...)
	case models.PriorityLow:
		q.pending = append(q.pending, entry)
	default:
		idx := len(q.pending)
		for i, e := range q.pending {
			if e.job.Priority == models.PriorityLow {
				idx = i
				break
			}
		}
		q.pending = append(q.pending[:idx], append([]*queueEntry{entry}, q.pending[idx:]...)...)
	}
}

// dequeueLocked pops the first entry whose backoff delay has elapsed.
func (q *SynthesisQueue) dequeueLocked(now time.Time) *models.SynthesisJob {
	for i, entry := range q.pending {
		if entry.notBefore.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return entry.job
	}
	return nil
}

// ProcessNext runs one job. It returns false when nothing was due.
func (q *SynthesisQueue) ProcessNext(ctx context.Context) (bool, error) {
	now := time.Now().UTC()

	q.mu.Lock()
	job := q.dequeueLocked(now)
	if job == nil {
		q.mu.Unlock()
		return false, nil
	}
	job.Status = models.JobProcessing
	job.Attempts++
	attemptAt := now
	job.LastAttemptAt = &attemptAt
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.SynthesisQueueDepth.Set(float64(depth))

	start := time.Now()
	result, err := q.synthesize(ctx, job)
	metrics.SynthesisDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		q.mu.Lock()
		job.Status = models.JobCompleted
		job.Result = result
		job.Error = ""
		q.mu.Unlock()

		metrics.SynthesisJobsTotal.WithLabelValues(string(models.JobCompleted)).Inc()
		q.publish(QueueEvent{Type: EventCompleted, Job: job})
		return true, nil
	}

	q.mu.Lock()
	job.Error = err.Error()
	if job.Attempts < job.MaxAttempts {
		job.Status = models.JobPending
		delay := time.Duration(math.Pow(2, float64(job.Attempts))) * requeueBaseDelay
		q.insertLocked(&queueEntry{job: job, notBefore: time.Now().UTC().Add(delay)})
		depth = len(q.pending)
		q.mu.Unlock()

		metrics.SynthesisQueueDepth.Set(float64(depth))
		log.Printf("[SynthesisQueue] warning: job %s attempt %d failed, requeued: %v", job.ID, job.Attempts, err)
		q.publish(QueueEvent{Type: EventRequeued, Job: job})
		return true, nil
	}
	job.Status = models.JobFailed
	q.mu.Unlock()

	metrics.SynthesisJobsTotal.WithLabelValues(string(models.JobFailed)).Inc()
	log.Printf("[SynthesisQueue] warning: job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, err)
	q.publish(QueueEvent{Type: EventFailed, Job: job})
	return true, nil
}

// ProcessAll drains up to batchSize due jobs and returns how many ran.
func (q *SynthesisQueue) ProcessAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	processed := 0
	for processed < batchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ran, err := q.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !ran {
			break
		}
		processed++
	}
	return processed, nil
}

// GetJob looks up a job by id.
func (q *SynthesisQueue) GetJob(jobID string) (*models.SynthesisJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrJobNotFound, "synthesis job not found")
	}
	return job, nil
}

// Depth returns how many jobs are waiting.
func (q *SynthesisQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Subscribe registers for queue events. The returned channel is buffered;
// slow consumers lose events rather than blocking the queue.
func (q *SynthesisQueue) Subscribe() <-chan QueueEvent {
	ch := make(chan QueueEvent, 64)
	q.mu.Lock()
	q.subscribers = append(q.subscribers, ch)
	q.mu.Unlock()
	return ch
}

func (q *SynthesisQueue) publish(event QueueEvent) {
	q.mu.Lock()
	subscribers := append([]chan QueueEvent(nil), q.subscribers...)
	q.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
