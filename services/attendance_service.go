package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
	"golang.org/x/crypto/hkdf"
)

// errCheckInRace откатывает транзакцию, проигравшую гонку за вставку отметки.
var errCheckInRace = errors.New("concurrent check-in won the insert")

type CheckInInput struct {
	EventID int                  `json:"event_id"`
	UserID  int                  `json:"user_id"`
	Method  models.CheckInMethod `json:"method"`
	ActorID int                  `json:"-"`
	// Override открывает отметку до начала события. Учитывается только для staff.
	Override bool `json:"override"`
}

type CheckInResult struct {
	CheckIn      *models.CheckIn      `json:"checkin"`
	Created      bool                 `json:"created"`
	Registration *models.Registration `json:"registration,omitempty"`
}

type AttendanceService struct {
	store       repositories.Store
	audit       *SafeAuditor
	broadcaster Broadcaster
	logger      *slog.Logger
	qrSecret    []byte
	maxRetries  int
	clock       Clock
}

func NewAttendanceService(store repositories.Store, audit *SafeAuditor, broadcaster Broadcaster, logger *slog.Logger, qrSecret string, maxRetries int) *AttendanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttendanceService{
		store:       store,
		audit:       audit,
		broadcaster: broadcaster,
		logger:      logger,
		qrSecret:    []byte(qrSecret),
		maxRetries:  maxRetries,
	}
}

func (s *AttendanceService) WithClock(clock Clock) *AttendanceService {
	s.clock = clock
	return s
}

// CheckIn отмечает прибытие участника. Повторная отметка возвращает существующую запись.
func (s *AttendanceService) CheckIn(ctx context.Context, in CheckInInput) (*CheckInResult, error) {
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCheckInMethod, in.Method)
	}
	if in.Method == models.CheckInQR && in.ActorID != in.UserID {
		return nil, ErrSelfCheckInMismatch
	}
	override := in.Override && in.Method == models.CheckInStaff

	var (
		result  *CheckInResult
		entries []models.AuditEntry
	)
	err := runEventTx(ctx, s.store, in.EventID, s.maxRetries, s.logger, func(ctx context.Context, repos repositories.Repositories) error {
		entries = nil
		event, err := lockEvent(ctx, repos, in.EventID)
		if err != nil {
			return err
		}

		existing, err := repos.CheckIns.FindByEventAndUser(ctx, in.EventID, in.UserID)
		if err == nil {
			result = &CheckInResult{CheckIn: existing}
			return nil
		}
		if !errors.Is(err, repositories.ErrCheckInNotFound) {
			return storageFault("find check-in", err)
		}

		if err := s.ensureOpen(event, override); err != nil {
			return err
		}

		checkIn := &models.CheckIn{
			EventID: in.EventID,
			UserID:  in.UserID,
			Method:  in.Method,
			ActorID: in.ActorID,
		}
		reg, regEntry, err := s.settleRegistration(ctx, repos, event, in, checkIn)
		if err != nil {
			return err
		}
		if regEntry != nil {
			entries = append(entries, *regEntry)
		}

		if err := repos.CheckIns.Create(ctx, checkIn); err != nil {
			if errors.Is(err, repositories.ErrCheckInConflict) {
				return errCheckInRace
			}
			return storageFault("create check-in", err)
		}
		entries = append(entries, auditEntry(in.ActorID, ActionCheckInCreated, EntityCheckIn, checkIn.ID,
			fmt.Sprintf("user %d checked in to event %d via %s", in.UserID, in.EventID, in.Method),
			nil, checkIn))
		result = &CheckInResult{CheckIn: checkIn, Created: true, Registration: reg}
		return nil
	})

	if errors.Is(err, errCheckInRace) {
		existing, findErr := s.store.Repos().CheckIns.FindByEventAndUser(ctx, in.EventID, in.UserID)
		if findErr != nil {
			return nil, storageFault("read concurrent check-in", findErr)
		}
		return &CheckInResult{CheckIn: existing}, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Created {
		s.audit.Record(ctx, entries...)
		s.logger.InfoContext(ctx, "check-in recorded",
			slog.Int("event_id", in.EventID),
			slog.Int("user_id", in.UserID),
			slog.String("method", string(in.Method)),
			slog.Bool("walk_in", result.CheckIn.WalkIn),
			slog.Bool("over_capacity", result.CheckIn.OverCapacity))
		broadcast(s.broadcaster, live.EventRoom(in.EventID), live.MessageCheckInRecorded, result.CheckIn)
	}
	return result, nil
}

func (s *AttendanceService) ensureOpen(event *models.Event, override bool) error {
	switch event.Status {
	case models.EventCancelled, models.EventDraft:
		return ErrCheckInNotOpen
	}
	if override {
		return nil
	}
	if s.clock.now().Before(event.StartsAt) {
		return ErrCheckInNotOpen
	}
	return nil
}

// settleRegistration гарантирует going-заявку для отмечающегося, если позволяет
// вместимость; иначе помечает отметку как превышение.
func (s *AttendanceService) settleRegistration(ctx context.Context, repos repositories.Repositories, event *models.Event, in CheckInInput, checkIn *models.CheckIn) (*models.Registration, *models.AuditEntry, error) {
	current, err := findActiveRegistration(ctx, repos, event.ID, in.UserID)
	if err != nil {
		return nil, nil, err
	}
	if current != nil && current.Status == models.RegistrationGoing {
		return current, nil, nil
	}

	checkIn.WalkIn = current == nil
	goingCount, err := repos.Registrations.CountByStatus(ctx, event.ID, models.RegistrationGoing)
	if err != nil {
		return nil, nil, storageFault("count going registrations", err)
	}
	if !event.HasCapacityFor(goingCount) {
		checkIn.OverCapacity = true
		return current, nil, nil
	}

	if current == nil {
		reg := &models.Registration{EventID: event.ID, UserID: in.UserID, Status: models.RegistrationGoing}
		if err := repos.Registrations.Create(ctx, reg); err != nil {
			return nil, nil, mapRegistrationError(err)
		}
		entry := auditEntry(in.ActorID, ActionRegistrationCreated, EntityRegistration, reg.ID,
			fmt.Sprintf("walk-in registration for user %d at event %d", in.UserID, event.ID), nil, reg)
		return reg, &entry, nil
	}

	before := *current
	updated, err := repos.Registrations.UpdateStatus(ctx, current.ID, models.RegistrationGoing)
	if err != nil {
		return nil, nil, mapRegistrationError(err)
	}
	entry := auditEntry(in.ActorID, ActionRegistrationPromoted, EntityRegistration, updated.ID,
		fmt.Sprintf("user %d promoted from waitlist on check-in at event %d", in.UserID, event.ID), before, updated)
	return updated, &entry, nil
}

// QRToken возвращает токен, который кодируется в QR-коде на площадке события.
func (s *AttendanceService) QRToken(ctx context.Context, eventID int) (string, error) {
	if _, err := s.store.Repos().Events.GetByID(ctx, eventID); err != nil {
		return "", mapEventError(err)
	}
	return s.signQR(eventID)
}

// CheckInWithQR - самостоятельная отметка по токену из QR-кода.
func (s *AttendanceService) CheckInWithQR(ctx context.Context, eventID int, token string, userID int) (*CheckInResult, error) {
	expected, err := s.signQR(eventID)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return nil, ErrInvalidQRToken
	}
	return s.CheckIn(ctx, CheckInInput{
		EventID: eventID,
		UserID:  userID,
		Method:  models.CheckInQR,
		ActorID: userID,
	})
}

func (s *AttendanceService) signQR(eventID int) (string, error) {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, s.qrSecret, nil, []byte("club-engine/checkin-qr/"+strconv.Itoa(eventID)))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return "", fmt.Errorf("derive qr key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("event:" + strconv.Itoa(eventID)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (s *AttendanceService) ListCheckIns(ctx context.Context, eventID int) ([]*models.CheckIn, error) {
	repos := s.store.Repos()
	if _, err := repos.Events.GetByID(ctx, eventID); err != nil {
		return nil, mapEventError(err)
	}
	list, err := repos.CheckIns.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, storageFault("list check-ins", err)
	}
	return list, nil
}
