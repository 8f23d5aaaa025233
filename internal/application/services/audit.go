package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

// AuditService is the append-only access log. Entries are written under a
// single lock and removed only by retention pruning. When no repository is
// configured the log lives in memory for the life of the process.
type AuditService struct {
	repo ports.AccessLogRepository
	ids  ports.IDGenerator

	mu      sync.Mutex
	entries []*models.AccessLogEntry
}

func NewAuditService(repo ports.AccessLogRepository, ids ports.IDGenerator) *AuditService {
	return &AuditService{repo: repo, ids: ids}
}

// LogAccess appends one audit entry. The in-memory copy is authoritative
// for reads within this process; the repository write is best-effort.
func (s *AuditService) LogAccess(ctx context.Context, entry *models.AccessLogEntry) {
	if entry.ID == "" {
		entry.ID = s.ids.GenerateAccessLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Append(ctx, entry); err != nil {
			log.Printf("[AuditService] warning: failed to persist access log entry %s: %v", entry.ID, err)
		}
	}
}

// History returns a user's audit entries, newest first.
func (s *AuditService) History(ctx context.Context, userID string, limit int) []*models.AccessLogEntry {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	var out []*models.AccessLogEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			clone := *s.entries[i]
			out = append(out, &clone)
		}
	}
	s.mu.Unlock()

	if len(out) == 0 && s.repo != nil {
		persisted, err := s.repo.ListByUser(ctx, userID, limit)
		if err != nil {
			log.Printf("[AuditService] warning: failed to load access log for %s: %v", userID, err)
			return out
		}
		return persisted
	}
	return out
}

// PruneOldLogs removes entries older than the retention window and returns
// how many were dropped from memory.
func (s *AuditService) PruneOldLogs(ctx context.Context, retentionDays int) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		if entry.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	s.mu.Unlock()

	if s.repo != nil {
		if _, err := s.repo.PruneOlderThan(ctx, cutoff); err != nil {
			log.Printf("[AuditService] warning: failed to prune persisted access log: %v", err)
		}
	}
	return removed
}

// Size returns the in-memory entry count.
func (s *AuditService) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
