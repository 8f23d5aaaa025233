package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const DefaultQueryTimeout = 30 * time.Second

// withTimeout wraps a context with a default query timeout if not already set
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

var collectionSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeUserID maps a user id onto the identifier-safe alphabet used in
// per-user collection names. Every disallowed rune becomes an underscore.
func SanitizeUserID(userID string) string {
	return collectionSanitizer.ReplaceAllString(userID, "_")
}

// CollectionName builds the per-user collection (table) name for a tier base
// name: "<base>" for the shared collection, "<base>_<sanitized-user>"
// otherwise. The result is safe to interpolate as an identifier.
func CollectionName(base, userID string) string {
	if userID == "" {
		return base
	}
	return base + "_" + SanitizeUserID(userID)
}

// Nullable field converters - from Go to SQL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// getString extracts a string from sql.NullString, returning empty string if null
func getString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// getTimePtr extracts a *time.Time from sql.NullTime, returning nil if null
func getTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// checkNoRows returns true if the error is pgx.ErrNoRows
func checkNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// unmarshalJSONField unmarshals a JSON byte slice into the target pointer.
// Empty data is not an error.
func unmarshalJSONField[T any](data []byte, target *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

// marshalJSONField marshals a value to JSON. Nil-like zero values still
// marshal; callers that want SQL NULL should pass nil explicitly.
func marshalJSONField(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

// vectorDims validates an embedding length against the configured column
// width. A mismatched write would fail at the database anyway, this just
// fails earlier with a clearer message.
func vectorDims(embedding []float32, want int) bool {
	return want <= 0 || len(embedding) == 0 || len(embedding) == want
}

// quoteIdent double-quotes an identifier. Collection names are already
// sanitized, quoting guards against reserved words.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, ``) + `"`
}
