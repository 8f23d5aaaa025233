package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/domain/models"
)

const (
	defaultSynthesisInterval = 10 * time.Second
	defaultUtilityInterval   = 24 * time.Hour
	defaultOrphanInterval    = time.Hour
	defaultInactivityTimeout = 30 * time.Minute
	orphanLookback           = 24 * time.Hour
	synthesisBatchSize       = 10
)

// SchedulerConfig sets the driver intervals and the conversation inactivity
// timeout. Zero values pick the defaults.
type SchedulerConfig struct {
	SynthesisInterval time.Duration
	UtilityInterval   time.Duration
	OrphanInterval    time.Duration
	InactivityTimeout time.Duration
}

// Scheduler runs the three periodic drivers: the synthesis queue drain,
// the daily utility batch and the hourly orphan-conversation sweep. Start
// is idempotent; Stop cancels all drivers and waits for them to exit.
type Scheduler struct {
	queue    *SynthesisQueue
	utility  *UtilityService
	episodic *EpisodicService
	config   SchedulerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewScheduler(queue *SynthesisQueue, utility *UtilityService, episodic *EpisodicService, config SchedulerConfig) *Scheduler {
	if config.SynthesisInterval <= 0 {
		config.SynthesisInterval = defaultSynthesisInterval
	}
	if config.UtilityInterval <= 0 {
		config.UtilityInterval = defaultUtilityInterval
	}
	if config.OrphanInterval <= 0 {
		config.OrphanInterval = defaultOrphanInterval
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = defaultInactivityTimeout
	}
	return &Scheduler{
		queue:    queue,
		utility:  utility,
		episodic: episodic,
		config:   config,
	}
}

// Start launches the drivers. Calling it again while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(3)
	go s.loop(ctx, s.config.SynthesisInterval, s.RunSynthesis)
	go s.loop(ctx, s.config.UtilityInterval, s.RunUtilityUpdate)
	go s.loop(ctx, s.config.OrphanInterval, s.RunOrphanSweep)

	log.Printf("[Scheduler] started (synthesis %s, utility %s, orphan %s)",
		s.config.SynthesisInterval, s.config.UtilityInterval, s.config.OrphanInterval)
}

// Stop cancels the drivers and blocks until they return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] stopped")
}

// Running reports whether the drivers are live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunSynthesis drains due synthesis jobs. The ticker calls this; manual
// triggers use the same path.
func (s *Scheduler) RunSynthesis(ctx context.Context) {
	processed, err := s.queue.ProcessAll(ctx, synthesisBatchSize)
	if err != nil && ctx.Err() == nil {
		log.Printf("[Scheduler] warning: synthesis drain stopped after %d jobs: %v", processed, err)
	}
}

// RunUtilityUpdate runs the batch utility pass for every known user.
func (s *Scheduler) RunUtilityUpdate(ctx context.Context) {
	if err := s.utility.UpdateAllUsers(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[Scheduler] warning: utility update failed: %v", err)
	}
}

// RunOrphanSweep auto-ends conversations idle past the inactivity timeout,
// then enqueues low-priority synthesis for conversations that ended in the
// last day without getting a summary.
func (s *Scheduler) RunOrphanSweep(ctx context.Context) {
	now := time.Now().UTC()
	idleCutoff := now.Add(-s.config.InactivityTimeout)
	cutoff := now.Add(-orphanLookback)

	for _, userID := range s.episodic.Users() {
		for _, conv := range s.episodic.IdleConversations(ctx, userID, idleCutoff) {
			firstEnd, err := s.episodic.EndConversation(ctx, userID, conv.ID)
			if err != nil {
				log.Printf("[Scheduler] warning: failed to end idle conversation %s: %v", conv.ID, err)
				continue
			}
			if !firstEnd {
				continue
			}
			log.Printf("[Scheduler] ended conversation %s after %s of inactivity", conv.ID, s.config.InactivityTimeout)
			if _, err := s.queue.Enqueue(userID, conv.ID, models.PriorityNormal); err != nil {
				log.Printf("[Scheduler] warning: failed to enqueue idle conversation %s: %v", conv.ID, err)
			}
		}

		for _, conv := range s.episodic.PendingSynthesis(ctx, userID) {
			if conv.EndedAt == nil || conv.EndedAt.Before(cutoff) {
				continue
			}
			if _, err := s.queue.Enqueue(userID, conv.ID, models.PriorityLow); err != nil {
				log.Printf("[Scheduler] warning: failed to enqueue orphan conversation %s: %v", conv.ID, err)
			}
		}
	}
}
