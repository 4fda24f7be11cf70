package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

type recordedMessage struct {
	Room string
	Type string
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (b *fakeBroadcaster) BroadcastToRoom(roomID string, message interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, _ := message.(live.WebSocketMessage)
	b.messages = append(b.messages, recordedMessage{Room: roomID, Type: msg.Type})
}

func (b *fakeBroadcaster) count(room, msgType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.messages {
		if m.Room == room && m.Type == msgType {
			n++
		}
	}
	return n
}

type failingRecorder struct {
	calls int
}

func (r *failingRecorder) Record(context.Context, models.AuditEntry) error {
	r.calls++
	return errors.New("audit sink is down")
}

type testEnv struct {
	store repositories.Store
	audit *SafeAuditor
	live  *fakeBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repositories.NewMemoryStoreWithClock(testClock)
	return &testEnv{
		store: store,
		audit: NewSafeAuditor(NewStoreAuditRecorder(store.Audit()), discardLogger()),
		live:  &fakeBroadcaster{},
	}
}

func (e *testEnv) registrations() *RegistrationService {
	return NewRegistrationService(e.store, e.audit, e.live, discardLogger(), 5).WithClock(testClock)
}

func (e *testEnv) attendance() *AttendanceService {
	return NewAttendanceService(e.store, e.audit, e.live, discardLogger(), "test-secret", 5).WithClock(testClock)
}

var slugSeq int

func (e *testEnv) seedEvent(t *testing.T, capacity *int, waitlist bool, startsAt time.Time) *models.Event {
	t.Helper()
	slugSeq++
	event := &models.Event{
		Slug:            fmt.Sprintf("round-%d", slugSeq),
		Title:           "Club round",
		StartsAt:        startsAt,
		Capacity:        capacity,
		WaitlistEnabled: waitlist,
		Status:          models.EventScheduled,
		CreatedBy:       1,
	}
	if err := e.store.Repos().Events.Create(context.Background(), event); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func (e *testEnv) auditEntries(t *testing.T, entityType string, entityID *int) []*models.AuditEntry {
	t.Helper()
	entries, err := e.store.Audit().List(context.Background(), repositories.AuditFilter{EntityType: entityType, EntityID: entityID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

func countActions(entries []*models.AuditEntry, action string) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (e *testEnv) countStatus(t *testing.T, eventID int, status models.RegistrationStatus) int {
	t.Helper()
	n, err := e.store.Repos().Registrations.CountByStatus(context.Background(), eventID, status)
	if err != nil {
		t.Fatalf("count %s: %v", status, err)
	}
	return n
}
