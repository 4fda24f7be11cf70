package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCatalogService(env.store, env.audit, discardLogger()).WithClock(testClock)
	ctx := context.Background()

	event, err := svc.CreateEvent(ctx, CreateEventInput{Slug: "Spring-Round", Title: " Spring ", StartsAt: testNow.Add(time.Hour), CreatedBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	if event.Slug != "spring-round" || event.Title != "Spring" || !event.WaitlistEnabled {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.EffectiveStatus != models.EventScheduled {
		t.Fatalf("expected scheduled, got %s", event.EffectiveStatus)
	}

	if _, err := svc.CreateEvent(ctx, CreateEventInput{Slug: "spring-round", Title: "Again", StartsAt: testNow}); !errors.Is(err, ErrEventSlugConflict) {
		t.Fatalf("expected ErrEventSlugConflict, got %v", err)
	}

	_, err = svc.CreateEvent(ctx, CreateEventInput{Slug: "bad slug", Capacity: intPtr(0), Status: models.EventCompleted})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Errors) != 5 {
		t.Fatalf("expected slug, title, starts_at, capacity and status errors, got %v", err)
	}
}

func TestUpdateEventStatusOverridesDerivedStatus(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCatalogService(env.store, env.audit, discardLogger()).WithClock(testClock)
	ctx := context.Background()
	event := env.seedEvent(t, nil, true, testNow.Add(-time.Hour))

	updated, err := svc.UpdateEventStatus(ctx, event.ID, models.EventPostponed, 2)
	if err != nil {
		t.Fatal(err)
	}
	if updated.EffectiveStatus != models.EventPostponed {
		t.Fatalf("expected explicit override, got %s", updated.EffectiveStatus)
	}
	if _, err := svc.UpdateEventStatus(ctx, event.ID, models.EventPostponed, 2); err != nil {
		t.Fatal(err)
	}
	id := event.ID
	if got := countActions(env.auditEntries(t, EntityEvent, &id), ActionEventStatusChanged); got != 1 {
		t.Fatalf("expected one status change entry, got %d", got)
	}
	if _, err := svc.UpdateEventStatus(ctx, event.ID, "unknown", 2); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateSeasonEntryConflicts(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCatalogService(env.store, env.audit, discardLogger())
	ctx := context.Background()

	season, err := svc.CreateSeason(ctx, CreateSeasonInput{Name: "Cup", Year: 2026}, 1)
	if err != nil {
		t.Fatal(err)
	}
	in := CreateSeasonEntryInput{SeasonID: season.ID, UserID: 5, ClassName: "pro"}
	if _, err := svc.CreateSeasonEntry(ctx, in, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateSeasonEntry(ctx, in, 1); !errors.Is(err, ErrSeasonEntryConflict) {
		t.Fatalf("expected ErrSeasonEntryConflict, got %v", err)
	}
	in.SeasonID = 999
	if _, err := svc.CreateSeasonEntry(ctx, in, 1); !errors.Is(err, ErrSeasonNotFound) {
		t.Fatalf("expected ErrSeasonNotFound, got %v", err)
	}

	entries, err := svc.ListAudit(ctx, repositories.AuditFilter{EntityType: EntitySeasonEntry})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry audit record, got %d", len(entries))
	}
}
