package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrCheckInNotFound = errors.New("check-in not found")
	// ErrCheckInConflict means another request already checked the user in.
	ErrCheckInConflict = errors.New("check-in already exists for this event and user")
)

type postgresCheckInRepository struct {
	exec SQLExecutor
}

const checkInColumns = `id, event_id, user_id, method, actor_id, walk_in, over_capacity, checked_in_at`

func (r *postgresCheckInRepository) Create(ctx context.Context, c *models.CheckIn) error {
	// ON CONFLICT DO NOTHING keeps the transaction usable when a concurrent
	// request won the insert; the caller then reads the existing row.
	query := `
		INSERT INTO checkins (event_id, user_id, method, actor_id, walk_in, over_capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING id, checked_in_at`
	err := r.exec.QueryRowContext(ctx, query,
		c.EventID, c.UserID, c.Method, c.ActorID, c.WalkIn, c.OverCapacity,
	).Scan(&c.ID, &c.CheckedInAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCheckInConflict
		}
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			return ErrCheckInConflict
		}
		return fmt.Errorf("failed to create check-in: %w", mapTxError(err))
	}
	return nil
}

func (r *postgresCheckInRepository) scanCheckIn(row interface{ Scan(...interface{}) error }, c *models.CheckIn) error {
	return row.Scan(&c.ID, &c.EventID, &c.UserID, &c.Method, &c.ActorID, &c.WalkIn, &c.OverCapacity, &c.CheckedInAt)
}

func (r *postgresCheckInRepository) FindByEventAndUser(ctx context.Context, eventID, userID int) (*models.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM checkins WHERE event_id = $1 AND user_id = $2`
	var c models.CheckIn
	if err := r.scanCheckIn(r.exec.QueryRowContext(ctx, query, eventID, userID), &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckInNotFound
		}
		return nil, fmt.Errorf("failed to find check-in: %w", mapTxError(err))
	}
	return &c, nil
}

func (r *postgresCheckInRepository) ListByEvent(ctx context.Context, eventID int) ([]*models.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM checkins WHERE event_id = $1 ORDER BY checked_in_at ASC, id ASC`
	rows, err := r.exec.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	checkIns := make([]*models.CheckIn, 0)
	for rows.Next() {
		var c models.CheckIn
		if err := r.scanCheckIn(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan check-in row: %w", err)
		}
		checkIns = append(checkIns, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-in rows: %w", err)
	}
	return checkIns, nil
}

func (r *postgresCheckInRepository) CountByEvent(ctx context.Context, eventID int) (int, error) {
	var count int
	if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins WHERE event_id = $1`, eventID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return count, nil
}
