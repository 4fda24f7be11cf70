package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/club-engine/models"
)

var (
	ErrProvenanceNotFound = errors.New("provenance not found")
)

type postgresProvenanceRepository struct {
	exec SQLExecutor
}

func (r *postgresProvenanceRepository) Create(ctx context.Context, p *models.Provenance) error {
	query := `
		INSERT INTO provenance (source, payload_hash, uploader_id, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	if err := r.exec.QueryRowContext(ctx, query, p.Source, p.PayloadHash, p.UploaderID, p.Notes).
		Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("failed to create provenance: %w", err)
	}
	return nil
}

func (r *postgresProvenanceRepository) GetByID(ctx context.Context, id int) (*models.Provenance, error) {
	query := `SELECT id, source, payload_hash, uploader_id, notes, created_at FROM provenance WHERE id = $1`
	var p models.Provenance
	err := r.exec.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Source, &p.PayloadHash, &p.UploaderID, &p.Notes, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProvenanceNotFound
		}
		return nil, fmt.Errorf("failed to get provenance: %w", err)
	}
	return &p, nil
}

func (r *postgresProvenanceRepository) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	query := `
		INSERT INTO artifacts (provenance_id, storage_location, content_type, byte_size, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.exec.QueryRowContext(ctx, query,
		a.ProvenanceID, a.StorageLocation, a.ContentType, a.ByteSize, a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return ErrProvenanceNotFound
		}
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

func (r *postgresProvenanceRepository) ListArtifacts(ctx context.Context, provenanceID int) ([]models.Artifact, error) {
	query := `
		SELECT id, provenance_id, storage_location, content_type, byte_size, created_by, created_at
		FROM artifacts WHERE provenance_id = $1 ORDER BY id ASC`
	rows, err := r.exec.QueryContext(ctx, query, provenanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]models.Artifact, 0)
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.ProvenanceID, &a.StorageLocation, &a.ContentType, &a.ByteSize, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
