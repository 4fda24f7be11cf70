package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrSeasonNotFound      = errors.New("season not found")
	ErrSeasonEntryNotFound = errors.New("season entry not found")
	ErrSeasonEntryConflict = errors.New("user already entered this class for the season")
)

type postgresSeasonRepository struct {
	exec SQLExecutor
}

func (r *postgresSeasonRepository) Create(ctx context.Context, s *models.Season) error {
	var table interface{}
	if len(s.PointsTable) > 0 {
		b, err := json.Marshal(s.PointsTable)
		if err != nil {
			return fmt.Errorf("failed to encode points table: %w", err)
		}
		table = string(b)
	}
	query := `INSERT INTO seasons (name, year, points_table) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := r.exec.QueryRowContext(ctx, query, s.Name, s.Year, table).Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("failed to create season: %w", err)
	}
	return nil
}

func (r *postgresSeasonRepository) GetByID(ctx context.Context, id int) (*models.Season, error) {
	var s models.Season
	var table []byte
	query := `SELECT id, name, year, points_table, created_at FROM seasons WHERE id = $1`
	err := r.exec.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Name, &s.Year, &table, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, fmt.Errorf("failed to get season: %w", err)
	}
	if len(table) > 0 {
		if err := json.Unmarshal(table, &s.PointsTable); err != nil {
			return nil, fmt.Errorf("failed to decode points table of season %d: %w", id, err)
		}
	}
	return &s, nil
}

func (r *postgresSeasonRepository) CreateEntry(ctx context.Context, e *models.SeasonEntry) error {
	query := `
		INSERT INTO season_entries (season_id, user_id, class_name, number, entered_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, NOW()))
		RETURNING id, entered_at`
	var enteredAt *time.Time
	if !e.EnteredAt.IsZero() {
		enteredAt = &e.EnteredAt
	}
	err := r.exec.QueryRowContext(ctx, query, e.SeasonID, e.UserID, e.ClassName, e.Number, enteredAt).Scan(&e.ID, &e.EnteredAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok {
			switch pqErr.Code {
			case pqUniqueViolation:
				return ErrSeasonEntryConflict
			case pqForeignKeyViolation:
				return ErrSeasonNotFound
			}
		}
		return fmt.Errorf("failed to create season entry: %w", err)
	}
	return nil
}

const seasonEntryColumns = `id, season_id, user_id, class_name, number, entered_at`

func scanSeasonEntry(row interface{ Scan(...interface{}) error }, e *models.SeasonEntry) error {
	return row.Scan(&e.ID, &e.SeasonID, &e.UserID, &e.ClassName, &e.Number, &e.EnteredAt)
}

func (r *postgresSeasonRepository) GetEntry(ctx context.Context, id int) (*models.SeasonEntry, error) {
	var e models.SeasonEntry
	query := `SELECT ` + seasonEntryColumns + ` FROM season_entries WHERE id = $1`
	if err := scanSeasonEntry(r.exec.QueryRowContext(ctx, query, id), &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeasonEntryNotFound
		}
		return nil, fmt.Errorf("failed to get season entry: %w", err)
	}
	return &e, nil
}

func (r *postgresSeasonRepository) ListEntries(ctx context.Context, seasonID int) ([]*models.SeasonEntry, error) {
	query := `SELECT ` + seasonEntryColumns + ` FROM season_entries WHERE season_id = $1 ORDER BY entered_at ASC, id ASC`
	rows, err := r.exec.QueryContext(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list season entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.SeasonEntry, 0)
	for rows.Next() {
		var e models.SeasonEntry
		if err := scanSeasonEntry(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan season entry row: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
