package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Dosada05/club-engine/models"
)

// SQLExecutor покрывает *sql.DB и *sql.Tx, чтобы репозитории работали в транзакции и вне её.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	ErrStoreUnavailable = errors.New("storage unavailable")
	// ErrSerialization is returned when the database aborted a transaction because of
	// a concurrent update or deadlock; the unit of work is safe to retry.
	ErrSerialization = errors.New("transaction serialization failure")
)

// Repositories bundles the repositories bound to one unit of work.
type Repositories struct {
	Events        EventRepository
	Registrations RegistrationRepository
	CheckIns      CheckInRepository
	Provenance    ProvenanceRepository
	Seasons       SeasonRepository
	Sessions      SessionRepository
	Results       ResultRepository
}

// Store hands out repositories and runs transactional units of work.
// WithinTx runs fn in a transaction of at least repeatable-read isolation; the
// transaction commits when fn returns nil and rolls back otherwise.
// WithinEventLock is WithinTx queued behind every other WithinEventLock call
// for the same event; waiters block instead of failing with a conflict.
type Store interface {
	Repos() Repositories
	Audit() AuditRepository
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	WithinEventLock(ctx context.Context, eventID int, fn func(ctx context.Context, repos Repositories) error) error
	Ping(ctx context.Context) error
}

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int) (*models.Event, error)
	// GetByIDForUpdate locks the event row until the surrounding transaction ends.
	// All capacity decisions for the event are serialized through this lock.
	GetByIDForUpdate(ctx context.Context, id int) (*models.Event, error)
	UpdateStatus(ctx context.Context, id int, status models.EventStatus) error
}

type RegistrationRepository interface {
	Create(ctx context.Context, reg *models.Registration) error
	UpdateStatus(ctx context.Context, id int, status models.RegistrationStatus) (*models.Registration, error)
	FindActive(ctx context.Context, eventID, userID int) (*models.Registration, error)
	CountByStatus(ctx context.Context, eventID int, status models.RegistrationStatus) (int, error)
	// NextWaitlisted returns the earliest-created waitlisted registration, skipping excludeID.
	NextWaitlisted(ctx context.Context, eventID, excludeID int) (*models.Registration, error)
	ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error)
}

type CheckInRepository interface {
	Create(ctx context.Context, checkIn *models.CheckIn) error
	FindByEventAndUser(ctx context.Context, eventID, userID int) (*models.CheckIn, error)
	ListByEvent(ctx context.Context, eventID int) ([]*models.CheckIn, error)
	CountByEvent(ctx context.Context, eventID int) (int, error)
}

type ProvenanceRepository interface {
	Create(ctx context.Context, p *models.Provenance) error
	GetByID(ctx context.Context, id int) (*models.Provenance, error)
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	ListArtifacts(ctx context.Context, provenanceID int) ([]models.Artifact, error)
}

type SeasonRepository interface {
	Create(ctx context.Context, season *models.Season) error
	GetByID(ctx context.Context, id int) (*models.Season, error)
	CreateEntry(ctx context.Context, entry *models.SeasonEntry) error
	GetEntry(ctx context.Context, id int) (*models.SeasonEntry, error)
	ListEntries(ctx context.Context, seasonID int) ([]*models.SeasonEntry, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id int) (*models.Session, error)
	ListBySeason(ctx context.Context, seasonID int) ([]*models.Session, error)
	SetFinalized(ctx context.Context, id int, finalizedAt *time.Time) error
}

type ResultRepository interface {
	Get(ctx context.Context, sessionID, entrantID int) (*models.Result, error)
	// Upsert inserts the row or overwrites the scoring fields of the existing
	// (session_id, entrant_id) row. ID and UpdatedAt are filled in.
	Upsert(ctx context.Context, result *models.Result) error
	ListBySession(ctx context.Context, sessionID int) ([]*models.Result, error)
	ListBySessions(ctx context.Context, sessionIDs []int) ([]*models.Result, error)
}

type AuditFilter struct {
	EntityType string
	EntityID   *int
	ActorID    *int
	Limit      int
}

type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)
}
