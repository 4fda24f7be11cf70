package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type CreateEventInput struct {
	Slug            string             `json:"slug"`
	Title           string             `json:"title"`
	StartsAt        time.Time          `json:"starts_at"`
	EndsAt          *time.Time         `json:"ends_at,omitempty"`
	Capacity        *int               `json:"capacity,omitempty"`
	WaitlistEnabled *bool              `json:"waitlist_enabled,omitempty"`
	Status          models.EventStatus `json:"status,omitempty"`
	CreatedBy       int                `json:"-"`
}

type CreateSeasonInput struct {
	Name        string             `json:"name"`
	Year        int                `json:"year"`
	PointsTable models.PointsTable `json:"points_table,omitempty"`
}

type CreateSeasonEntryInput struct {
	SeasonID  int    `json:"-"`
	UserID    int    `json:"user_id"`
	ClassName string `json:"class_name"`
	Number    *int   `json:"number,omitempty"`
}

type CreateSessionInput struct {
	EventID  int                `json:"-"`
	SeasonID *int               `json:"season_id,omitempty"`
	Kind     models.SessionKind `json:"kind"`
	Name     string             `json:"name"`
	Scored   *bool              `json:"scored,omitempty"`
}

// CatalogService ведёт справочники: события, сезоны, заявки на сезон и сессии.
type CatalogService struct {
	store  repositories.Store
	audit  *SafeAuditor
	logger *slog.Logger
	clock  Clock
}

func NewCatalogService(store repositories.Store, audit *SafeAuditor, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{store: store, audit: audit, logger: logger}
}

func (s *CatalogService) WithClock(clock Clock) *CatalogService {
	s.clock = clock
	return s
}

func (s *CatalogService) CreateEvent(ctx context.Context, in CreateEventInput) (*models.Event, error) {
	verr := &ValidationError{}
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if !slugPattern.MatchString(slug) {
		verr.add("slug", "must contain lowercase letters, digits and single hyphens")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		verr.add("title", "is required")
	}
	if in.StartsAt.IsZero() {
		verr.add("starts_at", "is required")
	}
	if in.EndsAt != nil && !in.EndsAt.After(in.StartsAt) {
		verr.add("ends_at", "must be after starts_at")
	}
	if in.Capacity != nil && *in.Capacity < 1 {
		verr.add("capacity", "must be at least 1")
	}
	status := in.Status
	if status == "" {
		status = models.EventScheduled
	}
	if status != models.EventDraft && status != models.EventScheduled {
		verr.add("status", "new events start as draft or scheduled")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	event := &models.Event{
		Slug:            slug,
		Title:           title,
		StartsAt:        in.StartsAt.UTC(),
		Capacity:        in.Capacity,
		WaitlistEnabled: in.WaitlistEnabled == nil || *in.WaitlistEnabled,
		Status:          status,
		CreatedBy:       in.CreatedBy,
	}
	if in.EndsAt != nil {
		endsAt := in.EndsAt.UTC()
		event.EndsAt = &endsAt
	}
	if err := s.store.Repos().Events.Create(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrEventSlugConflict) {
			return nil, ErrEventSlugConflict
		}
		return nil, storageFault("create event", err)
	}
	event.EffectiveStatus = event.EffectiveStatusAt(s.clock.now())

	s.audit.Record(ctx, auditEntry(in.CreatedBy, ActionEventCreated, EntityEvent, event.ID,
		fmt.Sprintf("event %q created", event.Slug), nil, event))
	s.logger.InfoContext(ctx, "event created", slog.Int("event_id", event.ID), slog.String("slug", event.Slug))
	return event, nil
}

// UpdateEventStatus выставляет хранимый статус (в т.ч. явное переопределение).
func (s *CatalogService) UpdateEventStatus(ctx context.Context, eventID int, status models.EventStatus, actorID int) (*models.Event, error) {
	if !status.Valid() {
		return nil, &ValidationError{Errors: []FieldError{{Field: "status", Message: fmt.Sprintf("unknown event status %q", status)}}}
	}

	var before, after *models.Event
	err := runEventTx(ctx, s.store, eventID, DefaultTxRetries, s.logger, func(ctx context.Context, repos repositories.Repositories) error {
		event, err := lockEvent(ctx, repos, eventID)
		if err != nil {
			return err
		}
		b := *event
		before, after = &b, event
		if event.Status == status {
			return nil
		}
		if err := repos.Events.UpdateStatus(ctx, eventID, status); err != nil {
			return mapEventError(err)
		}
		after.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	after.EffectiveStatus = after.EffectiveStatusAt(s.clock.now())
	if before.Status != after.Status {
		s.audit.Record(ctx, auditEntry(actorID, ActionEventStatusChanged, EntityEvent, eventID,
			fmt.Sprintf("event status %s -> %s", before.Status, after.Status), before, after))
	}
	return after, nil
}

func (s *CatalogService) CreateSeason(ctx context.Context, in CreateSeasonInput, actorID int) (*models.Season, error) {
	verr := &ValidationError{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.add("name", "is required")
	}
	if in.Year < 1900 || in.Year > 3000 {
		verr.add("year", "must be a calendar year")
	}
	for pos, pts := range in.PointsTable {
		if pos < 1 || pts < 0 {
			verr.add("points_table", "position %d: positions start at 1 and points must not be negative", pos)
			break
		}
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	season := &models.Season{Name: name, Year: in.Year, PointsTable: in.PointsTable}
	if err := s.store.Repos().Seasons.Create(ctx, season); err != nil {
		return nil, storageFault("create season", err)
	}
	s.audit.Record(ctx, auditEntry(actorID, ActionSeasonCreated, EntitySeason, season.ID,
		fmt.Sprintf("season %q created", season.Name), nil, season))
	return season, nil
}

func (s *CatalogService) GetSeason(ctx context.Context, seasonID int) (*models.Season, error) {
	season, err := s.store.Repos().Seasons.GetByID(ctx, seasonID)
	if err != nil {
		if errors.Is(err, repositories.ErrSeasonNotFound) {
			return nil, ErrSeasonNotFound
		}
		return nil, storageFault("load season", err)
	}
	return season, nil
}

func (s *CatalogService) CreateSeasonEntry(ctx context.Context, in CreateSeasonEntryInput, actorID int) (*models.SeasonEntry, error) {
	verr := &ValidationError{}
	if in.UserID <= 0 {
		verr.add("user_id", "is required")
	}
	className := strings.TrimSpace(in.ClassName)
	if className == "" {
		verr.add("class_name", "is required")
	}
	if in.Number != nil && *in.Number < 0 {
		verr.add("number", "must not be negative")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	entry := &models.SeasonEntry{SeasonID: in.SeasonID, UserID: in.UserID, ClassName: className, Number: in.Number}
	if err := s.store.Repos().Seasons.CreateEntry(ctx, entry); err != nil {
		switch {
		case errors.Is(err, repositories.ErrSeasonNotFound):
			return nil, ErrSeasonNotFound
		case errors.Is(err, repositories.ErrSeasonEntryConflict):
			return nil, ErrSeasonEntryConflict
		}
		return nil, storageFault("create season entry", err)
	}
	s.audit.Record(ctx, auditEntry(actorID, ActionSeasonEntryCreated, EntitySeasonEntry, entry.ID,
		fmt.Sprintf("user %d entered %s in season %d", entry.UserID, entry.ClassName, entry.SeasonID), nil, entry))
	return entry, nil
}

func (s *CatalogService) ListSeasonEntries(ctx context.Context, seasonID int) ([]*models.SeasonEntry, error) {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	entries, err := s.store.Repos().Seasons.ListEntries(ctx, seasonID)
	if err != nil {
		return nil, storageFault("list season entries", err)
	}
	return entries, nil
}

func (s *CatalogService) CreateSession(ctx context.Context, in CreateSessionInput, actorID int) (*models.Session, error) {
	verr := &ValidationError{}
	if !in.Kind.Valid() {
		verr.add("kind", "unknown session kind %q", in.Kind)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.add("name", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	// по умолчанию в зачёт идут гонки и спринты
	scored := in.Kind == models.SessionRace || in.Kind == models.SessionSprint
	if in.Scored != nil {
		scored = *in.Scored
	}
	session := &models.Session{EventID: in.EventID, SeasonID: in.SeasonID, Kind: in.Kind, Name: name, Scored: scored}
	if err := s.store.Repos().Sessions.Create(ctx, session); err != nil {
		switch {
		case errors.Is(err, repositories.ErrSessionEventInvalid):
			return nil, ErrEventNotFound
		case errors.Is(err, repositories.ErrSessionSeasonInvalid):
			return nil, ErrSeasonNotFound
		}
		return nil, storageFault("create session", err)
	}
	s.audit.Record(ctx, auditEntry(actorID, ActionSessionCreated, EntitySession, session.ID,
		fmt.Sprintf("%s session %q created for event %d", session.Kind, session.Name, session.EventID), nil, session))
	return session, nil
}

func (s *CatalogService) GetSession(ctx context.Context, sessionID int) (*models.Session, error) {
	return loadSession(ctx, s.store.Repos(), sessionID)
}

func (s *CatalogService) ListResults(ctx context.Context, sessionID int) ([]*models.Result, error) {
	repos := s.store.Repos()
	if _, err := loadSession(ctx, repos, sessionID); err != nil {
		return nil, err
	}
	results, err := repos.Results.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, storageFault("list results", err)
	}
	return results, nil
}

// ListAudit читает журнал аудита. Лимит по умолчанию задаёт хранилище.
func (s *CatalogService) ListAudit(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error) {
	if filter.Limit < 0 || filter.Limit > 1000 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "limit", Message: "must be between 0 and 1000"}}}
	}
	entries, err := s.store.Audit().List(ctx, filter)
	if err != nil {
		return nil, storageFault("list audit entries", err)
	}
	return entries, nil
}
