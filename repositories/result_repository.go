package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-engine/models"
	"github.com/lib/pq"
)

var (
	ErrResultNotFound       = errors.New("result not found")
	ErrResultSessionInvalid = errors.New("result session conflict or invalid")
	ErrResultEntrantInvalid = errors.New("result entrant conflict or invalid")
)

type postgresResultRepository struct {
	exec SQLExecutor
}

const resultColumns = `id, session_id, entrant_id, position, points, best_lap_ms, total_time_ms,
	laps_completed, status, penalties, provenance_id, updated_by, updated_at`

func (r *postgresResultRepository) scanResult(rowScanner interface{ Scan(...interface{}) error }) (*models.Result, error) {
	var res models.Result
	var penalties []byte
	err := rowScanner.Scan(
		&res.ID, &res.SessionID, &res.EntrantID, &res.Position, &res.Points, &res.BestLapMs,
		&res.TotalTimeMs, &res.LapsCompleted, &res.Status, &penalties, &res.ProvenanceID,
		&res.UpdatedBy, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	res.Penalties = rawJSON(penalties)
	return &res, nil
}

func (r *postgresResultRepository) Get(ctx context.Context, sessionID, entrantID int) (*models.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE session_id = $1 AND entrant_id = $2`
	res, err := r.scanResult(r.exec.QueryRowContext(ctx, query, sessionID, entrantID))
	if err != nil && !errors.Is(err, ErrResultNotFound) {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, err
}

func (r *postgresResultRepository) Upsert(ctx context.Context, res *models.Result) error {
	query := `
		INSERT INTO results
			(session_id, entrant_id, position, points, best_lap_ms, total_time_ms,
			 laps_completed, status, penalties, provenance_id, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (session_id, entrant_id) DO UPDATE SET
			position = EXCLUDED.position,
			points = EXCLUDED.points,
			best_lap_ms = EXCLUDED.best_lap_ms,
			total_time_ms = EXCLUDED.total_time_ms,
			laps_completed = EXCLUDED.laps_completed,
			status = EXCLUDED.status,
			penalties = EXCLUDED.penalties,
			provenance_id = EXCLUDED.provenance_id,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, updated_at`
	err := r.exec.QueryRowContext(ctx, query,
		res.SessionID, res.EntrantID, res.Position, res.Points, res.BestLapMs, res.TotalTimeMs,
		res.LapsCompleted, res.Status, nullableJSON(res.Penalties), res.ProvenanceID, res.UpdatedBy,
	).Scan(&res.ID, &res.UpdatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			switch pqErr.Constraint {
			case "results_session_id_fkey":
				return ErrResultSessionInvalid
			case "results_entrant_id_fkey":
				return ErrResultEntrantInvalid
			}
		}
		return fmt.Errorf("failed to upsert result for session %d entrant %d: %w", res.SessionID, res.EntrantID, mapTxError(err))
	}
	return nil
}

func (r *postgresResultRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Result, error) {
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := make([]*models.Result, 0)
	for rows.Next() {
		res, errScan := r.scanResult(rows)
		if errScan != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", errScan)
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *postgresResultRepository) ListBySession(ctx context.Context, sessionID int) ([]*models.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE session_id = $1
		ORDER BY position ASC NULLS LAST, entrant_id ASC`
	return r.list(ctx, query, sessionID)
}

func (r *postgresResultRepository) ListBySessions(ctx context.Context, sessionIDs []int) ([]*models.Result, error) {
	if len(sessionIDs) == 0 {
		return []*models.Result{}, nil
	}
	ids := make([]int64, len(sessionIDs))
	for i, id := range sessionIDs {
		ids[i] = int64(id)
	}
	query := `SELECT ` + resultColumns + ` FROM results WHERE session_id = ANY($1)
		ORDER BY session_id ASC, entrant_id ASC`
	return r.list(ctx, query, pq.Array(ids))
}
