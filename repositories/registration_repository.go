package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrRegistrationNotFound      = errors.New("registration not found")
	ErrRegistrationConflict      = errors.New("registration conflict: user already has an active registration for this event")
	ErrRegistrationEventInvalid  = errors.New("registration event conflict or invalid")
	ErrRegistrationStatusInvalid = errors.New("registration status violates check constraint")
)

type postgresRegistrationRepository struct {
	exec SQLExecutor
}

const registrationColumns = `id, event_id, user_id, status, created_at, updated_at`

func (r *postgresRegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (event_id, user_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.exec.QueryRowContext(ctx, query, reg.EventID, reg.UserID, reg.Status).
		Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok {
			switch pqErr.Code {
			case pqUniqueViolation:
				if pqErr.Constraint == "registrations_active_event_user_key" {
					return ErrRegistrationConflict
				}
			case pqForeignKeyViolation:
				if pqErr.Constraint == "registrations_event_id_fkey" {
					return ErrRegistrationEventInvalid
				}
			case pqCheckViolation:
				return ErrRegistrationStatusInvalid
			}
		}
		return fmt.Errorf("failed to create registration: %w", mapTxError(err))
	}
	return nil
}

func (r *postgresRegistrationRepository) UpdateStatus(ctx context.Context, id int, status models.RegistrationStatus) (*models.Registration, error) {
	query := `
		UPDATE registrations SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING ` + registrationColumns
	reg, err := r.findOne(ctx, query, status, id)
	if err != nil && !errors.Is(err, ErrRegistrationNotFound) {
		return nil, fmt.Errorf("failed to update registration status: %w", err)
	}
	return reg, err
}

func (r *postgresRegistrationRepository) scanRegistration(rowScanner interface {
	Scan(dest ...interface{}) error
}, reg *models.Registration) error {
	return rowScanner.Scan(
		&reg.ID,
		&reg.EventID,
		&reg.UserID,
		&reg.Status,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
}

func (r *postgresRegistrationRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Registration, error) {
	reg := &models.Registration{}
	row := r.exec.QueryRowContext(ctx, query, args...)
	if err := r.scanRegistration(row, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration: %w", mapTxError(err))
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) FindActive(ctx context.Context, eventID, userID int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations
		WHERE event_id = $1 AND user_id = $2 AND status <> 'canceled'`
	return r.findOne(ctx, query, eventID, userID)
}

func (r *postgresRegistrationRepository) CountByStatus(ctx context.Context, eventID int, status models.RegistrationStatus) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`
	if err := r.exec.QueryRowContext(ctx, query, eventID, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", mapTxError(err))
	}
	return count, nil
}

func (r *postgresRegistrationRepository) NextWaitlisted(ctx context.Context, eventID, excludeID int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations
		WHERE event_id = $1 AND status = 'waitlist' AND id <> $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1`
	return r.findOne(ctx, query, eventID, excludeID)
}

func (r *postgresRegistrationRepository) ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	var queryBuilder strings.Builder
	args := []interface{}{eventID}

	queryBuilder.WriteString(`SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1`)
	if statusFilter != nil {
		queryBuilder.WriteString(" AND status = $2")
		args = append(args, *statusFilter)
	}
	queryBuilder.WriteString(" ORDER BY created_at ASC, id ASC")

	rows, err := r.exec.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations by event: %w", err)
	}
	defer rows.Close()

	registrations := make([]*models.Registration, 0)
	for rows.Next() {
		var reg models.Registration
		if err := r.scanRegistration(rows, &reg); err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		registrations = append(registrations, &reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return registrations, nil
}
