package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

// Действия, попадающие в журнал аудита.
const (
	ActionRegistrationCreated  = "registration.created"
	ActionRegistrationUpdated  = "registration.updated"
	ActionRegistrationPromoted = "registration.promoted"
	ActionCheckInCreated       = "checkin.created"
	ActionProvenanceRecorded   = "provenance.recorded"
	ActionArtifactAttached     = "artifact.attached"
	ActionResultUpserted       = "result.upserted"
	ActionSessionFinalized     = "session.finalized"
	ActionSessionReopened      = "session.reopened"
	ActionEventCreated         = "event.created"
	ActionEventStatusChanged   = "event.status_changed"
	ActionSeasonCreated        = "season.created"
	ActionSeasonEntryCreated   = "season_entry.created"
	ActionSessionCreated       = "session.created"
)

const (
	EntityRegistration = "registration"
	EntityCheckIn      = "checkin"
	EntityProvenance   = "provenance"
	EntityArtifact     = "artifact"
	EntityResult       = "result"
	EntitySession      = "session"
	EntityEvent        = "event"
	EntitySeason       = "season"
	EntitySeasonEntry  = "season_entry"
)

// AuditRecorder - приёмник записей аудита.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

type storeAuditRecorder struct {
	repo repositories.AuditRepository
}

// NewStoreAuditRecorder пишет записи в таблицу аудита вне бизнес-транзакции.
func NewStoreAuditRecorder(repo repositories.AuditRepository) AuditRecorder {
	return &storeAuditRecorder{repo: repo}
}

func (r *storeAuditRecorder) Record(ctx context.Context, entry models.AuditEntry) error {
	return r.repo.Create(ctx, &entry)
}

// SafeAuditor глотает ошибки приёмника: сбой аудита не должен ломать бизнес-операцию.
type SafeAuditor struct {
	next   AuditRecorder
	logger *slog.Logger
}

func NewSafeAuditor(next AuditRecorder, logger *slog.Logger) *SafeAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeAuditor{next: next, logger: logger}
}

func (a *SafeAuditor) Record(ctx context.Context, entries ...models.AuditEntry) {
	if a == nil || a.next == nil {
		return
	}
	// Бизнес-операция уже зафиксирована; отмена запроса не должна терять аудит.
	ctx = context.WithoutCancel(ctx)
	for _, entry := range entries {
		if err := a.next.Record(ctx, entry); err != nil {
			a.logger.WarnContext(ctx, "audit record failed",
				slog.String("action", entry.Action),
				slog.String("entity_type", entry.EntityType),
				slog.Int("entity_id", entry.EntityID),
				slog.Any("error", err))
		}
	}
}

// auditEntry собирает запись; before/after сериализуются в JSON, nil остаётся nil.
func auditEntry(actorID int, action, entityType string, entityID int, summary string, before, after interface{}) models.AuditEntry {
	return models.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Summary:    summary,
		Before:     marshalAuditState(before),
		After:      marshalAuditState(after),
	}
}

func marshalAuditState(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}
