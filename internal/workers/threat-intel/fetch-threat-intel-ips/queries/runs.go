package queries

import (
	"context"
	"database/sql"
	"fmt"

	"threatintel-workers/internal/models"
)

// MaxRunsLimit caps how many runs one LatestRuns call may return.
const MaxRunsLimit = 500

var ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxRunsLimit)

const insertRun = `INSERT INTO threat_intel_runs (id, started_at, finished_at, status, ip_count, error_code, error_message, exclusion_applied, min_confidence, requested_by) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectLatestRuns = `SELECT id, started_at, finished_at, status, ip_count, error_code, error_message, exclusion_applied, min_confidence, requested_by FROM threat_intel_runs ORDER BY started_at DESC LIMIT $1`

// RecordRun inserts one run row.
func RecordRun(ctx context.Context, db *sql.DB, run models.ThreatIntelRun) error {
	_, err := db.ExecContext(ctx, insertRun,
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		string(run.Status),
		run.IPCount,
		nullString(run.ErrorCode),
		nullString(run.ErrorMessage),
		run.ExclusionApplied,
		run.MinConfidence,
		nullString(run.RequestedBy),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// LatestRuns returns up to limit runs, newest first. limit must be in
// [1, MaxRunsLimit].
func LatestRuns(ctx context.Context, db *sql.DB, limit int) ([]models.ThreatIntelRun, error) {
	if limit <= 0 || limit > MaxRunsLimit {
		return nil, ErrInvalidLimit
	}

	rows, err := db.QueryContext(ctx, selectLatestRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.ThreatIntelRun{}
	for rows.Next() {
		var (
			run                              models.ThreatIntelRun
			status                           string
			errorCode, errorMsg, requestedBy sql.NullString
		)
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&status,
			&run.IPCount,
			&errorCode,
			&errorMsg,
			&run.ExclusionApplied,
			&run.MinConfidence,
			&requestedBy,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = models.RunStatus(status)
		run.ErrorCode = errorCode.String
		run.ErrorMessage = errorMsg.String
		run.RequestedBy = requestedBy.String
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
