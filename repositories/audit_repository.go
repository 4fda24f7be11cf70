package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/Dosada05/club-engine/models"
)

const defaultAuditLimit = 100

type postgresAuditRepository struct {
	exec SQLExecutor
}

func (r *postgresAuditRepository) Create(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (actor_id, action, entity_type, entity_id, summary, before, after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := r.exec.QueryRowContext(ctx, query,
		e.ActorID, e.Action, e.EntityType, e.EntityID, e.Summary, nullableJSON(e.Before), nullableJSON(e.After),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (r *postgresAuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	var queryBuilder strings.Builder
	args := []interface{}{}
	argCounter := 1

	queryBuilder.WriteString(`SELECT id, actor_id, action, entity_type, entity_id, summary, before, after, created_at
		FROM audit_log WHERE 1=1`)
	if filter.EntityType != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND entity_type = $%d", argCounter))
		args = append(args, filter.EntityType)
		argCounter++
	}
	if filter.EntityID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND entity_id = $%d", argCounter))
		args = append(args, *filter.EntityID)
		argCounter++
	}
	if filter.ActorID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND actor_id = $%d", argCounter))
		args = append(args, *filter.ActorID)
		argCounter++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", argCounter))
	args = append(args, limit)

	rows, err := r.exec.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.Summary, &before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Before = rawJSON(before)
		e.After = rawJSON(after)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
