package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

// RejectReason - код отказа бизнес-правила. Отказ не является ошибкой.
type RejectReason string

const (
	ReasonEventNotOpen                 RejectReason = "event_not_open"
	ReasonEventFullAndWaitlistDisabled RejectReason = "event_full_and_waitlist_disabled"
	ReasonAlreadyCanceledEvent         RejectReason = "already_canceled_event"
	ReasonEventFull                    RejectReason = "event_full"
)

// RSVPOutcome - результат запроса RSVP. При отказе заполнен Reason, остальное
// описывает текущее (неизменённое) состояние.
type RSVPOutcome struct {
	Registration *models.Registration     `json:"registration,omitempty"`
	Status       models.RegistrationStatus `json:"status"`
	Requested    models.RegistrationStatus `json:"requested"`
	// Demoted: запрошен going, но мест нет и заявка поставлена в лист ожидания.
	Demoted  bool                 `json:"demoted,omitempty"`
	Promoted *models.Registration `json:"promoted,omitempty"`
	Reason   RejectReason         `json:"reason,omitempty"`
}

func (o *RSVPOutcome) Rejected() bool {
	return o.Reason != ""
}

type RegistrationService struct {
	store       repositories.Store
	audit       *SafeAuditor
	broadcaster Broadcaster
	logger      *slog.Logger
	maxRetries  int
	clock       Clock
}

func NewRegistrationService(store repositories.Store, audit *SafeAuditor, broadcaster Broadcaster, logger *slog.Logger, maxRetries int) *RegistrationService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{
		store:       store,
		audit:       audit,
		broadcaster: broadcaster,
		logger:      logger,
		maxRetries:  maxRetries,
	}
}

// WithClock подменяет источник времени.
func (s *RegistrationService) WithClock(clock Clock) *RegistrationService {
	s.clock = clock
	return s
}

// rsvpTx накапливает результат одной попытки транзакции.
type rsvpTx struct {
	repos   repositories.Repositories
	event   *models.Event
	actorID int
	outcome *RSVPOutcome
	audit   []models.AuditEntry
}

// RequestRSVP переводит заявку пользователя в желаемый статус с учётом вместимости.
// Бизнес-отказы возвращаются в RSVPOutcome.Reason, ошибки означают сбой или неверный ввод.
func (s *RegistrationService) RequestRSVP(ctx context.Context, eventID, userID int, desired models.RegistrationStatus) (*RSVPOutcome, error) {
	if !desired.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRSVPStatus, desired)
	}

	var st *rsvpTx
	err := s.withEventLock(ctx, eventID, func(ctx context.Context, repos repositories.Repositories) error {
		event, err := lockEvent(ctx, repos, eventID)
		if err != nil {
			return err
		}
		current, err := findActiveRegistration(ctx, repos, eventID, userID)
		if err != nil {
			return err
		}

		st = &rsvpTx{
			repos:   repos,
			event:   event,
			actorID: userID,
			outcome: &RSVPOutcome{Requested: desired, Registration: current, Status: models.RegistrationCanceled},
		}
		if current != nil {
			st.outcome.Status = current.Status
		}
		return s.applyRSVP(ctx, st, userID, current, desired)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, st)
	return st.outcome, nil
}

func (s *RegistrationService) applyRSVP(ctx context.Context, st *rsvpTx, userID int, current *models.Registration, desired models.RegistrationStatus) error {
	if desired == models.RegistrationCanceled {
		if current == nil {
			return nil
		}
		return s.cancel(ctx, st, current)
	}

	if current != nil && current.Status == desired {
		return nil
	}
	if st.event.Status == models.EventCancelled {
		st.outcome.Reason = ReasonAlreadyCanceledEvent
		return nil
	}
	if !st.event.OpenForRegistration(s.clock.now()) {
		st.outcome.Reason = ReasonEventNotOpen
		return nil
	}

	switch desired {
	case models.RegistrationGoing:
		goingCount, err := st.repos.Registrations.CountByStatus(ctx, st.event.ID, models.RegistrationGoing)
		if err != nil {
			return storageFault("count going registrations", err)
		}
		if st.event.HasCapacityFor(goingCount) {
			return s.setStatus(ctx, st, userID, current, models.RegistrationGoing)
		}
		if !st.event.WaitlistEnabled {
			st.outcome.Reason = ReasonEventFullAndWaitlistDisabled
			return nil
		}
		st.outcome.Demoted = true
		if current != nil && current.Status == models.RegistrationWaitlist {
			return nil
		}
		return s.setStatus(ctx, st, userID, current, models.RegistrationWaitlist)

	case models.RegistrationWaitlist:
		if !st.event.WaitlistEnabled {
			st.outcome.Reason = ReasonEventFullAndWaitlistDisabled
			return nil
		}
		wasGoing := current != nil && current.Status == models.RegistrationGoing
		if err := s.setStatus(ctx, st, userID, current, models.RegistrationWaitlist); err != nil {
			return err
		}
		if wasGoing {
			return s.promoteNext(ctx, st, st.outcome.Registration.ID)
		}
	}
	return nil
}

func (s *RegistrationService) cancel(ctx context.Context, st *rsvpTx, current *models.Registration) error {
	wasGoing := current.Status == models.RegistrationGoing
	if err := s.setStatus(ctx, st, current.UserID, current, models.RegistrationCanceled); err != nil {
		return err
	}
	if wasGoing {
		return s.promoteNext(ctx, st, current.ID)
	}
	return nil
}

// setStatus создаёт новую заявку или меняет статус существующей и пишет аудит.
func (s *RegistrationService) setStatus(ctx context.Context, st *rsvpTx, userID int, current *models.Registration, status models.RegistrationStatus) error {
	if current == nil {
		reg := &models.Registration{EventID: st.event.ID, UserID: userID, Status: status}
		if err := st.repos.Registrations.Create(ctx, reg); err != nil {
			return mapRegistrationError(err)
		}
		st.outcome.Registration = reg
		st.outcome.Status = reg.Status
		st.audit = append(st.audit, auditEntry(st.actorID, ActionRegistrationCreated, EntityRegistration, reg.ID,
			fmt.Sprintf("user %d registered for event %d as %s", userID, st.event.ID, status),
			nil, reg))
		return nil
	}

	before := *current
	updated, err := st.repos.Registrations.UpdateStatus(ctx, current.ID, status)
	if err != nil {
		return mapRegistrationError(err)
	}
	st.outcome.Registration = updated
	st.outcome.Status = updated.Status
	st.audit = append(st.audit, auditEntry(st.actorID, ActionRegistrationUpdated, EntityRegistration, updated.ID,
		fmt.Sprintf("registration of user %d for event %d: %s -> %s", updated.UserID, st.event.ID, before.Status, updated.Status),
		before, updated))
	return nil
}

// promoteNext переводит самую раннюю заявку из листа ожидания в going, если есть место.
func (s *RegistrationService) promoteNext(ctx context.Context, st *rsvpTx, excludeID int) error {
	goingCount, err := st.repos.Registrations.CountByStatus(ctx, st.event.ID, models.RegistrationGoing)
	if err != nil {
		return storageFault("count going registrations", err)
	}
	if !st.event.HasCapacityFor(goingCount) {
		return nil
	}
	next, err := st.repos.Registrations.NextWaitlisted(ctx, st.event.ID, excludeID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil
		}
		return storageFault("find next waitlisted registration", err)
	}
	before := *next
	promoted, err := st.repos.Registrations.UpdateStatus(ctx, next.ID, models.RegistrationGoing)
	if err != nil {
		return mapRegistrationError(err)
	}
	st.outcome.Promoted = promoted
	st.audit = append(st.audit, auditEntry(st.actorID, ActionRegistrationPromoted, EntityRegistration, promoted.ID,
		fmt.Sprintf("user %d promoted from waitlist for event %d", promoted.UserID, st.event.ID),
		before, promoted))
	return nil
}

// MoveRegistration - ручной перевод GOING <-> WAITLIST организатором.
func (s *RegistrationService) MoveRegistration(ctx context.Context, eventID, userID int, status models.RegistrationStatus, actorID int) (*RSVPOutcome, error) {
	if status != models.RegistrationGoing && status != models.RegistrationWaitlist {
		return nil, fmt.Errorf("%w: operators can only move between going and waitlist", ErrInvalidRSVPStatus)
	}

	var st *rsvpTx
	err := s.withEventLock(ctx, eventID, func(ctx context.Context, repos repositories.Repositories) error {
		event, err := lockEvent(ctx, repos, eventID)
		if err != nil {
			return err
		}
		current, err := findActiveRegistration(ctx, repos, eventID, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrRegistrationNotFound
		}
		st = &rsvpTx{
			repos:   repos,
			event:   event,
			actorID: actorID,
			outcome: &RSVPOutcome{Requested: status, Registration: current, Status: current.Status},
		}
		if current.Status == status {
			return nil
		}
		if event.Status == models.EventCancelled {
			st.outcome.Reason = ReasonAlreadyCanceledEvent
			return nil
		}

		if status == models.RegistrationGoing {
			goingCount, err := repos.Registrations.CountByStatus(ctx, eventID, models.RegistrationGoing)
			if err != nil {
				return storageFault("count going registrations", err)
			}
			if !event.HasCapacityFor(goingCount) {
				st.outcome.Reason = ReasonEventFull
				return nil
			}
			return s.setStatus(ctx, st, userID, current, models.RegistrationGoing)
		}

		if err := s.setStatus(ctx, st, userID, current, models.RegistrationWaitlist); err != nil {
			return err
		}
		return s.promoteNext(ctx, st, current.ID)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, st)
	return st.outcome, nil
}

func (s *RegistrationService) GetEvent(ctx context.Context, eventID int) (*models.Event, error) {
	event, err := s.store.Repos().Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, mapEventError(err)
	}
	event.EffectiveStatus = event.EffectiveStatusAt(s.clock.now())
	return event, nil
}

// ListRegistrations возвращает заявки события в порядке FIFO.
func (s *RegistrationService) ListRegistrations(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	if statusFilter != nil && !statusFilter.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRSVPStatus, *statusFilter)
	}
	repos := s.store.Repos()
	if _, err := repos.Events.GetByID(ctx, eventID); err != nil {
		return nil, mapEventError(err)
	}
	regs, err := repos.Registrations.ListByEvent(ctx, eventID, statusFilter)
	if err != nil {
		return nil, storageFault("list registrations", err)
	}
	return regs, nil
}

func (s *RegistrationService) EventRoster(ctx context.Context, eventID int) (*models.EventRoster, error) {
	repos := s.store.Repos()
	event, err := repos.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, mapEventError(err)
	}
	roster := &models.EventRoster{EventID: eventID, Capacity: event.Capacity}
	if roster.Going, err = repos.Registrations.CountByStatus(ctx, eventID, models.RegistrationGoing); err != nil {
		return nil, storageFault("count going registrations", err)
	}
	if roster.Waitlist, err = repos.Registrations.CountByStatus(ctx, eventID, models.RegistrationWaitlist); err != nil {
		return nil, storageFault("count waitlisted registrations", err)
	}
	if roster.CheckedIn, err = repos.CheckIns.CountByEvent(ctx, eventID); err != nil {
		return nil, storageFault("count check-ins", err)
	}
	if event.Capacity != nil {
		remaining := *event.Capacity - roster.Going
		if remaining < 0 {
			remaining = 0
		}
		roster.RemainingSlots = &remaining
	}
	return roster, nil
}

func (s *RegistrationService) afterCommit(ctx context.Context, st *rsvpTx) {
	if st == nil || len(st.audit) == 0 {
		return
	}
	s.audit.Record(ctx, st.audit...)
	s.logger.InfoContext(ctx, "registration changed",
		slog.Int("event_id", st.event.ID),
		slog.String("requested", string(st.outcome.Requested)),
		slog.String("status", string(st.outcome.Status)),
		slog.Bool("promoted", st.outcome.Promoted != nil))
	broadcast(s.broadcaster, live.EventRoom(st.event.ID), live.MessageRosterUpdated, st.outcome)
}

func (s *RegistrationService) withEventLock(ctx context.Context, eventID int, fn func(ctx context.Context, repos repositories.Repositories) error) error {
	return runEventTx(ctx, s.store, eventID, s.maxRetries, s.logger, fn)
}

func lockEvent(ctx context.Context, repos repositories.Repositories, eventID int) (*models.Event, error) {
	event, err := repos.Events.GetByIDForUpdate(ctx, eventID)
	if err != nil {
		return nil, mapEventError(err)
	}
	return event, nil
}

func findActiveRegistration(ctx context.Context, repos repositories.Repositories, eventID, userID int) (*models.Registration, error) {
	reg, err := repos.Registrations.FindActive(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, nil
		}
		return nil, storageFault("find active registration", err)
	}
	return reg, nil
}

func mapEventError(err error) error {
	if errors.Is(err, repositories.ErrEventNotFound) {
		return ErrEventNotFound
	}
	return storageFault("load event", err)
}

// mapRegistrationError: нарушение уникальности активной заявки внутри транзакции
// означает гонку, которую безопасно повторить.
func mapRegistrationError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrRegistrationConflict):
		return fmt.Errorf("%w: %v", repositories.ErrSerialization, err)
	case errors.Is(err, repositories.ErrRegistrationEventInvalid):
		return ErrEventNotFound
	case errors.Is(err, repositories.ErrRegistrationNotFound):
		return ErrRegistrationNotFound
	}
	return storageFault("write registration", err)
}
