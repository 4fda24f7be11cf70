package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
)

func TestRequestRSVPWaitlistAndPromotion(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, intPtr(2), true, testNow.Add(24*time.Hour))

	for _, user := range []int{1, 2} {
		out, err := svc.RequestRSVP(ctx, event.ID, user, models.RegistrationGoing)
		if err != nil {
			t.Fatalf("rsvp user %d: %v", user, err)
		}
		if out.Status != models.RegistrationGoing {
			t.Fatalf("user %d: expected going, got %s", user, out.Status)
		}
	}

	out, err := svc.RequestRSVP(ctx, event.ID, 3, models.RegistrationGoing)
	if err != nil {
		t.Fatalf("rsvp user 3: %v", err)
	}
	if out.Status != models.RegistrationWaitlist || !out.Demoted || out.Rejected() {
		t.Fatalf("expected user 3 demoted to waitlist, got %+v", out)
	}

	out, err = svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationCanceled)
	if err != nil {
		t.Fatalf("cancel user 1: %v", err)
	}
	if out.Status != models.RegistrationCanceled {
		t.Fatalf("expected canceled, got %s", out.Status)
	}
	if out.Promoted == nil || out.Promoted.UserID != 3 || out.Promoted.Status != models.RegistrationGoing {
		t.Fatalf("expected user 3 promoted, got %+v", out.Promoted)
	}

	if going := env.countStatus(t, event.ID, models.RegistrationGoing); going != 2 {
		t.Fatalf("expected 2 going, got %d", going)
	}
	if waitlist := env.countStatus(t, event.ID, models.RegistrationWaitlist); waitlist != 0 {
		t.Fatalf("expected empty waitlist, got %d", waitlist)
	}

	entries := env.auditEntries(t, EntityRegistration, nil)
	if got := countActions(entries, ActionRegistrationPromoted); got != 1 {
		t.Fatalf("expected 1 promotion audit entry, got %d", got)
	}
	if got := env.live.count(live.EventRoom(event.ID), live.MessageRosterUpdated); got != 4 {
		t.Fatalf("expected 4 roster broadcasts, got %d", got)
	}
}

func TestRequestRSVPPromotesInFIFOOrder(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, intPtr(1), true, testNow.Add(time.Hour))

	for _, user := range []int{10, 20, 30} {
		if _, err := svc.RequestRSVP(ctx, event.ID, user, models.RegistrationGoing); err != nil {
			t.Fatalf("rsvp %d: %v", user, err)
		}
	}

	out, err := svc.RequestRSVP(ctx, event.ID, 10, models.RegistrationCanceled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Promoted == nil || out.Promoted.UserID != 20 {
		t.Fatalf("expected earliest waitlisted user 20 promoted, got %+v", out.Promoted)
	}
}

func TestRequestRSVPGoingToWaitlistPromotesSomeoneElse(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, intPtr(1), true, testNow.Add(time.Hour))

	if _, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestRSVP(ctx, event.ID, 2, models.RegistrationGoing); err != nil {
		t.Fatal(err)
	}

	out, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationWaitlist)
	if err != nil {
		t.Fatalf("move to waitlist: %v", err)
	}
	if out.Status != models.RegistrationWaitlist {
		t.Fatalf("expected waitlist, got %s", out.Status)
	}
	if out.Promoted == nil || out.Promoted.UserID != 2 {
		t.Fatalf("expected user 2 promoted, got %+v", out.Promoted)
	}
}

func TestRequestRSVPRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("full without waitlist", func(t *testing.T) {
		env := newTestEnv(t)
		svc := env.registrations()
		event := env.seedEvent(t, intPtr(1), false, testNow.Add(time.Hour))
		if _, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing); err != nil {
			t.Fatal(err)
		}
		out, err := svc.RequestRSVP(ctx, event.ID, 2, models.RegistrationGoing)
		if err != nil {
			t.Fatal(err)
		}
		if out.Reason != ReasonEventFullAndWaitlistDisabled || out.Registration != nil {
			t.Fatalf("unexpected outcome %+v", out)
		}
		if got := env.countStatus(t, event.ID, models.RegistrationWaitlist); got != 0 {
			t.Fatalf("expected no waitlist entries, got %d", got)
		}
	})

	t.Run("cancelled event", func(t *testing.T) {
		env := newTestEnv(t)
		event := env.seedEvent(t, nil, true, testNow.Add(time.Hour))
		if err := env.store.Repos().Events.UpdateStatus(ctx, event.ID, models.EventCancelled); err != nil {
			t.Fatal(err)
		}
		out, err := env.registrations().RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing)
		if err != nil {
			t.Fatal(err)
		}
		if out.Reason != ReasonAlreadyCanceledEvent {
			t.Fatalf("expected %s, got %+v", ReasonAlreadyCanceledEvent, out)
		}
	})

	t.Run("draft event", func(t *testing.T) {
		env := newTestEnv(t)
		event := env.seedEvent(t, nil, true, testNow.Add(time.Hour))
		if err := env.store.Repos().Events.UpdateStatus(ctx, event.ID, models.EventDraft); err != nil {
			t.Fatal(err)
		}
		out, err := env.registrations().RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing)
		if err != nil {
			t.Fatal(err)
		}
		if out.Reason != ReasonEventNotOpen {
			t.Fatalf("expected %s, got %+v", ReasonEventNotOpen, out)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.registrations().RequestRSVP(ctx, 404, 1, models.RegistrationGoing)
		if !errors.Is(err, ErrEventNotFound) {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(t)
		event := env.seedEvent(t, nil, true, testNow.Add(time.Hour))
		_, err := env.registrations().RequestRSVP(ctx, event.ID, 1, models.RegistrationStatus("maybe"))
		if !errors.Is(err, ErrInvalidRSVPStatus) {
			t.Fatalf("expected ErrInvalidRSVPStatus, got %v", err)
		}
	})
}

func TestRequestRSVPNoOps(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, nil, true, testNow.Add(time.Hour))

	out, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationCanceled)
	if err != nil {
		t.Fatalf("cancel without registration: %v", err)
	}
	if out.Status != models.RegistrationCanceled || out.Registration != nil {
		t.Fatalf("expected no-op cancel, got %+v", out)
	}

	if _, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing); err != nil {
		t.Fatal(err)
	}
	before := len(env.auditEntries(t, EntityRegistration, nil))
	out, err = svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.RegistrationGoing {
		t.Fatalf("expected going, got %s", out.Status)
	}
	if after := len(env.auditEntries(t, EntityRegistration, nil)); after != before {
		t.Fatalf("repeated request wrote audit entries: %d -> %d", before, after)
	}
}

func TestRequestRSVPNeverExceedsCapacityUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	const capacity, users = 5, 40
	event := env.seedEvent(t, intPtr(capacity), true, testNow.Add(time.Hour))

	var wg sync.WaitGroup
	errs := make(chan error, users)
	for u := 1; u <= users; u++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			if _, err := svc.RequestRSVP(ctx, event.ID, userID, models.RegistrationGoing); err != nil {
				errs <- err
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent rsvp failed: %v", err)
	}

	if going := env.countStatus(t, event.ID, models.RegistrationGoing); going != capacity {
		t.Fatalf("expected exactly %d going, got %d", capacity, going)
	}
	if waitlist := env.countStatus(t, event.ID, models.RegistrationWaitlist); waitlist != users-capacity {
		t.Fatalf("expected %d waitlisted, got %d", users-capacity, waitlist)
	}
}

func TestMoveRegistration(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, intPtr(1), true, testNow.Add(time.Hour))

	if _, err := svc.RequestRSVP(ctx, event.ID, 1, models.RegistrationGoing); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestRSVP(ctx, event.ID, 2, models.RegistrationGoing); err != nil {
		t.Fatal(err)
	}

	out, err := svc.MoveRegistration(ctx, event.ID, 2, models.RegistrationGoing, 99)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != ReasonEventFull {
		t.Fatalf("expected %s, got %+v", ReasonEventFull, out)
	}

	out, err = svc.MoveRegistration(ctx, event.ID, 1, models.RegistrationWaitlist, 99)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.RegistrationWaitlist || out.Promoted == nil || out.Promoted.UserID != 2 {
		t.Fatalf("expected swap of users 1 and 2, got %+v", out)
	}

	if _, err := svc.MoveRegistration(ctx, event.ID, 3, models.RegistrationGoing, 99); !errors.Is(err, ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
	if _, err := svc.MoveRegistration(ctx, event.ID, 1, models.RegistrationCanceled, 99); !errors.Is(err, ErrInvalidRSVPStatus) {
		t.Fatalf("expected ErrInvalidRSVPStatus, got %v", err)
	}

	entries := env.auditEntries(t, EntityRegistration, nil)
	var operatorMoves int
	for _, e := range entries {
		if e.ActorID == 99 {
			operatorMoves++
		}
	}
	if operatorMoves != 2 {
		t.Fatalf("expected 2 audit entries by the operator, got %d", operatorMoves)
	}
}

func TestEventRoster(t *testing.T) {
	env := newTestEnv(t)
	svc := env.registrations()
	ctx := context.Background()
	event := env.seedEvent(t, intPtr(2), true, testNow.Add(time.Hour))
	for _, u := range []int{1, 2, 3} {
		if _, err := svc.RequestRSVP(ctx, event.ID, u, models.RegistrationGoing); err != nil {
			t.Fatal(err)
		}
	}

	roster, err := svc.EventRoster(ctx, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if roster.Going != 2 || roster.Waitlist != 1 || roster.RemainingSlots == nil || *roster.RemainingSlots != 0 {
		t.Fatalf("unexpected roster %+v", roster)
	}

	waitlist := models.RegistrationWaitlist
	regs, err := svc.ListRegistrations(ctx, event.ID, &waitlist)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 || regs[0].UserID != 3 {
		t.Fatalf("unexpected waitlist %+v", regs)
	}
}

func TestAuditFailureDoesNotFailRSVP(t *testing.T) {
	env := newTestEnv(t)
	recorder := &failingRecorder{}
	svc := NewRegistrationService(env.store, NewSafeAuditor(recorder, discardLogger()), nil, discardLogger(), 3).WithClock(testClock)
	event := env.seedEvent(t, nil, true, testNow.Add(time.Hour))

	out, err := svc.RequestRSVP(context.Background(), event.ID, 1, models.RegistrationGoing)
	if err != nil {
		t.Fatalf("expected audit failure to be swallowed, got %v", err)
	}
	if out.Status != models.RegistrationGoing {
		t.Fatalf("expected going, got %s", out.Status)
	}
	if recorder.calls != 1 {
		t.Fatalf("expected one audit attempt, got %d", recorder.calls)
	}
}
