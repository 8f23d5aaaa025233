package postgres

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/osqr/memvault/internal/domain/models"
)

func newTestAccessLogRepo() *AccessLogRepository {
	repo := &AccessLogRepository{
		BaseRepository: BaseRepository{pool: nil},
	}
	repo.once.Do(func() {})
	return repo
}

func TestAccessLogRepository_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := newTestAccessLogRepo()

	entry := &models.AccessLogEntry{
		ID:                  "log_1",
		RequesterID:         "calendar-plugin",
		RequesterType:       models.RequesterPlugin,
		UserID:              "alice",
		CategoriesRequested: []string{"preferences", "personal_info"},
		CategoriesProvided:  []string{"preferences"},
		RedactionsApplied:   []string{"pii"},
		Timestamp:           time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO osqr_access_log").
		WithArgs(
			entry.ID,
			entry.RequesterID,
			string(models.RequesterPlugin),
			entry.UserID,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := repo.Append(ctx, entry); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAccessLogRepository_PruneOlderThan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := newTestAccessLogRepo()

	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM osqr_access_log").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	ctx := setupMockContext(mock)
	removed, err := repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 7 {
		t.Errorf("expected 7 removed, got %d", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
