package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionEventInvalid  = errors.New("session event conflict or invalid")
	ErrSessionSeasonInvalid = errors.New("session season conflict or invalid")
)

type postgresSessionRepository struct {
	exec SQLExecutor
}

const sessionColumns = `id, event_id, season_id, kind, name, scored, finalized_at`

func (r *postgresSessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (event_id, season_id, kind, name, scored, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.exec.QueryRowContext(ctx, query, s.EventID, s.SeasonID, s.Kind, s.Name, s.Scored, s.FinalizedAt).Scan(&s.ID)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			switch pqErr.Constraint {
			case "sessions_event_id_fkey":
				return ErrSessionEventInvalid
			case "sessions_season_id_fkey":
				return ErrSessionSeasonInvalid
			}
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...interface{}) error }, s *models.Session) error {
	return row.Scan(&s.ID, &s.EventID, &s.SeasonID, &s.Kind, &s.Name, &s.Scored, &s.FinalizedAt)
}

func (r *postgresSessionRepository) GetByID(ctx context.Context, id int) (*models.Session, error) {
	var s models.Session
	if err := scanSession(r.exec.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id), &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *postgresSessionRepository) ListBySeason(ctx context.Context, seasonID int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE season_id = $1 ORDER BY id ASC`
	rows, err := r.exec.QueryContext(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

func (r *postgresSessionRepository) SetFinalized(ctx context.Context, id int, finalizedAt *time.Time) error {
	result, err := r.exec.ExecContext(ctx, `UPDATE sessions SET finalized_at = $1 WHERE id = $2`, finalizedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session finalization: %w", err)
	}
	return checkAffectedRows(result, ErrSessionNotFound)
}
