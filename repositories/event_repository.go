package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventSlugConflict = errors.New("event slug already exists")
)

type postgresEventRepository struct {
	exec SQLExecutor
}

const eventColumns = `id, slug, title, starts_at, ends_at, capacity, waitlist_enabled, status, created_by, created_at`

func (r *postgresEventRepository) Create(ctx context.Context, e *models.Event) error {
	query := `
		INSERT INTO events (slug, title, starts_at, ends_at, capacity, waitlist_enabled, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := r.exec.QueryRowContext(ctx, query,
		e.Slug, e.Title, e.StartsAt, e.EndsAt, e.Capacity, e.WaitlistEnabled, e.Status, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			return ErrEventSlugConflict
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *postgresEventRepository) scanEvent(row interface{ Scan(...interface{}) error }) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.StartsAt, &e.EndsAt, &e.Capacity,
		&e.WaitlistEnabled, &e.Status, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.StartsAt = e.StartsAt.UTC()
	if e.EndsAt != nil {
		end := e.EndsAt.UTC()
		e.EndsAt = &end
	}
	return &e, nil
}

func (r *postgresEventRepository) GetByID(ctx context.Context, id int) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return r.scanEvent(r.exec.QueryRowContext(ctx, query, id))
}

func (r *postgresEventRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Event, error) {
	// Блокировка реализована записью, а не SELECT ... FOR UPDATE: в REPEATABLE READ
	// ожидающая транзакция с устаревшим снимком получит 40001 и будет повторена,
	// а не увидит старое количество заявок.
	query := `UPDATE events SET lock_version = lock_version + 1 WHERE id = $1 RETURNING ` + eventColumns
	e, err := r.scanEvent(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapTxError(err)
	}
	return e, nil
}

func (r *postgresEventRepository) UpdateStatus(ctx context.Context, id int, status models.EventStatus) error {
	result, err := r.exec.ExecContext(ctx, `UPDATE events SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}
