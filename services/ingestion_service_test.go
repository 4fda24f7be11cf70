package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/cache"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/storage"
)

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failErr error
}

func (b *memoryBlobStore) Upload(_ context.Context, key, _ string, reader io.Reader) (*storage.UploadResult, error) {
	if b.failErr != nil {
		return nil, b.failErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return &storage.UploadResult{Key: key, Location: "mem://" + key, Size: int64(len(data))}, nil
}

func (b *memoryBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

type fakeSheetReader struct {
	rows [][]string
	err  error
}

func (f *fakeSheetReader) ReadRange(context.Context, string, string) ([][]string, error) {
	return f.rows, f.err
}

// raceFixture: сезон с двумя участниками класса pro и зачётной гонкой.
type raceFixture struct {
	env       *testEnv
	catalog   *CatalogService
	standings *StandingsService
	ingestion *IngestionService
	blobs     *memoryBlobStore
	season    *models.Season
	session   *models.Session
	entrants  []*models.SeasonEntry
}

func newRaceFixture(t *testing.T) *raceFixture {
	t.Helper()
	ctx := context.Background()
	env := newTestEnv(t)
	f := &raceFixture{
		env:     env,
		catalog: NewCatalogService(env.store, env.audit, discardLogger()).WithClock(testClock),
		blobs:   &memoryBlobStore{},
	}
	f.standings = NewStandingsService(env.store, cache.NewMemoryStandingsCache(time.Minute), env.live, nil, discardLogger())
	f.ingestion = NewIngestionService(env.store, env.audit, f.blobs, nil, f.standings, env.live, discardLogger()).WithClock(testClock)

	var err error
	if f.season, err = f.catalog.CreateSeason(ctx, CreateSeasonInput{Name: "Club Cup", Year: 2026}, 1); err != nil {
		t.Fatalf("create season: %v", err)
	}
	for _, user := range []int{101, 102} {
		e, err := f.catalog.CreateSeasonEntry(ctx, CreateSeasonEntryInput{SeasonID: f.season.ID, UserID: user, ClassName: "pro"}, 1)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		f.entrants = append(f.entrants, e)
	}
	f.session = f.newSession(t)
	return f
}

func (f *raceFixture) newSession(t *testing.T) *models.Session {
	t.Helper()
	ctx := context.Background()
	event, err := f.catalog.CreateEvent(ctx, CreateEventInput{
		Slug:      fmt.Sprintf("round-%d", time.Now().UnixNano()),
		Title:     "Round",
		StartsAt:  testNow.Add(-2 * time.Hour),
		CreatedBy: 1,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	session, err := f.catalog.CreateSession(ctx, CreateSessionInput{EventID: event.ID, SeasonID: &f.season.ID, Kind: models.SessionRace, Name: "Race"}, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestUpsertResultOverwritesAndAudits(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	entrant := f.entrants[0].ID

	first, err := f.ingestion.UpsertResult(ctx, f.session.ID, entrant, ResultFields{Position: intPtr(2)}, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || first.Result.Status != models.FinishFinished {
		t.Fatalf("unexpected first report %+v", first)
	}

	second, err := f.ingestion.UpsertResult(ctx, f.session.ID, entrant, ResultFields{Position: intPtr(1), BestLapMs: int64Ptr(61234)}, 9)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Result.ID != first.Result.ID {
		t.Fatalf("expected overwrite of the same row, got %+v", second)
	}
	if second.Previous == nil || *second.Previous.Position != 2 {
		t.Fatalf("expected previous position 2, got %+v", second.Previous)
	}

	results, err := f.catalog.ListResults(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || *results[0].Position != 1 {
		t.Fatalf("expected a single row with position 1, got %+v", results)
	}

	id := first.Result.ID
	entries := f.env.auditEntries(t, EntityResult, &id)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Before != nil {
		t.Fatalf("first entry must have no before state, got %s", entries[0].Before)
	}
	var before, after models.Result
	if err := json.Unmarshal(entries[1].Before, &before); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(entries[1].After, &after); err != nil {
		t.Fatal(err)
	}
	if *before.Position != 2 || *after.Position != 1 {
		t.Fatalf("audit must carry both positions, got before=%v after=%v", *before.Position, *after.Position)
	}
}

func TestUpsertResultValidation(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	entrant := f.entrants[0].ID

	cases := []struct {
		name   string
		fields ResultFields
		field  string
	}{
		{"zero position", ResultFields{Position: intPtr(0)}, "position"},
		{"position out of range", ResultFields{Position: intPtr(50_000_000)}, "position"},
		{"negative points", ResultFields{Points: intPtr(-1)}, "points"},
		{"zero lap", ResultFields{BestLapMs: int64Ptr(0)}, "best_lap_ms"},
		{"zero laps", ResultFields{LapsCompleted: intPtr(0)}, "laps_completed"},
		{"unknown status", ResultFields{Status: "crashed"}, "status"},
		{"bad penalties", ResultFields{Penalties: json.RawMessage(`{`)}, "penalties"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ingestion.UpsertResult(ctx, f.session.ID, entrant, tc.fields, 9)
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Errors[0].Field != tc.field {
				t.Fatalf("expected error on %s, got %+v", tc.field, verr.Errors)
			}
		})
	}

	if _, err := f.ingestion.UpsertResult(ctx, 9999, entrant, ResultFields{}, 9); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.ingestion.UpsertResult(ctx, f.session.ID, 9999, ResultFields{}, 9); !errors.Is(err, ErrEntrantNotFound) {
		t.Fatalf("expected ErrEntrantNotFound, got %v", err)
	}

	other, err := f.catalog.CreateSeason(ctx, CreateSeasonInput{Name: "Other", Year: 2026}, 1)
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := f.catalog.CreateSeasonEntry(ctx, CreateSeasonEntryInput{SeasonID: other.ID, UserID: 300, ClassName: "pro"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingestion.UpsertResult(ctx, f.session.ID, outsider.ID, ResultFields{}, 9); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected entrant from another season to be rejected, got %v", err)
	}
}

func TestUpsertResultsIsAllOrNothing(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	third, err := f.catalog.CreateSeasonEntry(ctx, CreateSeasonEntryInput{SeasonID: f.season.ID, UserID: 103, ClassName: "pro"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	second := f.newSession(t)

	rows := []ResultRow{
		{SessionID: f.session.ID, EntrantID: f.entrants[0].ID, Fields: ResultFields{Position: intPtr(1)}},
		{SessionID: f.session.ID, EntrantID: f.entrants[1].ID, Fields: ResultFields{Position: intPtr(2)}},
		{SessionID: f.session.ID, EntrantID: third.ID, Fields: ResultFields{Position: intPtr(-3)}},
		{SessionID: second.ID, EntrantID: f.entrants[0].ID, Fields: ResultFields{Position: intPtr(2)}},
		{SessionID: second.ID, EntrantID: f.entrants[1].ID, Fields: ResultFields{Position: intPtr(1)}},
	}
	_, err = f.ingestion.UpsertResults(ctx, BatchInput{Rows: rows, ActorID: 9})
	var batchErr *BatchValidationError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected batch validation error, got %v", err)
	}
	if len(batchErr.Rows) != 1 || batchErr.Rows[0].Row != 3 || batchErr.Rows[0].Errors[0].Field != "position" {
		t.Fatalf("expected only row 3 reported, got %+v", batchErr.Rows)
	}
	for _, sess := range []int{f.session.ID, second.ID} {
		results, err := f.catalog.ListResults(ctx, sess)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Fatalf("session %d: expected nothing committed, got %d rows", sess, len(results))
		}
	}
	if n := len(f.env.auditEntries(t, EntityResult, nil)); n != 0 {
		t.Fatalf("expected no result audit entries, got %d", n)
	}

	rows[2].Fields.Position = intPtr(3)
	report, err := f.ingestion.UpsertResults(ctx, BatchInput{Rows: rows, ActorID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 5 || report.Updated != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if n := len(f.env.auditEntries(t, EntityResult, nil)); n != 5 {
		t.Fatalf("expected one audit entry per row, got %d", n)
	}
}

func TestUpsertResultsRejectsDuplicateRows(t *testing.T) {
	f := newRaceFixture(t)
	rows := []ResultRow{
		{SessionID: f.session.ID, EntrantID: f.entrants[0].ID, Fields: ResultFields{Position: intPtr(1)}},
		{SessionID: f.session.ID, EntrantID: f.entrants[0].ID, Fields: ResultFields{Position: intPtr(2)}},
	}
	_, err := f.ingestion.UpsertResults(context.Background(), BatchInput{Rows: rows, ActorID: 9})
	var batchErr *BatchValidationError
	if !errors.As(err, &batchErr) || len(batchErr.Rows) != 1 || batchErr.Rows[0].Row != 2 {
		t.Fatalf("expected duplicate reported on row 2, got %v", err)
	}
}

func TestIngestCSV(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	payload := fmt.Sprintf("entrant_id,position,best_lap,status\n%d,1,1:01.250,finished\n%d,2,1:02.000,\n", f.entrants[0].ID, f.entrants[1].ID)

	report, err := f.ingestion.Ingest(ctx, UploadInput{
		SessionID:   f.session.ID,
		Source:      models.SourceTimingSystem,
		UploaderID:  9,
		Filename:    "race.csv",
		ContentType: "text/csv",
		Body:        strings.NewReader(payload),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Batch.Created != 2 {
		t.Fatalf("expected 2 created rows, got %+v", report.Batch)
	}
	if len(report.Provenance.PayloadHash) != 64 {
		t.Fatalf("expected sha256 payload hash, got %q", report.Provenance.PayloadHash)
	}
	if !strings.HasPrefix(report.Artifact.StorageLocation, fmt.Sprintf("mem://results/%d/", report.Provenance.ID)) {
		t.Fatalf("unexpected artifact location %q", report.Artifact.StorageLocation)
	}

	results, err := f.catalog.ListResults(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ProvenanceID == nil || *r.ProvenanceID != report.Provenance.ID {
			t.Fatalf("result %d is not linked to provenance %d", r.ID, report.Provenance.ID)
		}
	}
	if *results[0].BestLapMs != 61250 {
		t.Fatalf("expected lap 61250ms, got %d", *results[0].BestLapMs)
	}
}

func TestIngestKeepsProvenanceWhenParsingFails(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()

	_, err := f.ingestion.Ingest(ctx, UploadInput{
		SessionID:  f.session.ID,
		Source:     models.SourceManualUpload,
		UploaderID: 9,
		Filename:   "broken.csv",
		Body:       strings.NewReader("entrant_id,position\nabc,1\n"),
	})
	var ingestErr *IngestError
	if !errors.As(err, &ingestErr) {
		t.Fatalf("expected IngestError, got %v", err)
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected parse failure to be a validation error, got %v", err)
	}

	prov, err := f.ingestion.GetProvenance(ctx, ingestErr.ProvenanceID)
	if err != nil {
		t.Fatalf("provenance must survive a failed parse: %v", err)
	}
	if len(prov.Artifacts) != 1 {
		t.Fatalf("expected the raw artifact kept, got %d", len(prov.Artifacts))
	}
	results, err := f.catalog.ListResults(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestIngestRejectsOversizedAndUnknownPayloads(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()

	_, err := f.ingestion.Ingest(ctx, UploadInput{
		SessionID: f.session.ID, Source: models.SourceManualUpload, UploaderID: 9,
		Filename: "huge.csv", Body: bytes.NewReader(make([]byte, MaxUploadBytes+1)),
	})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected size validation error, got %v", err)
	}

	_, err = f.ingestion.Ingest(ctx, UploadInput{
		SessionID: f.session.ID, Source: models.SourceManualUpload, UploaderID: 9,
		Filename: "results.xlsx", ContentType: "application/octet-stream", Body: strings.NewReader("x"),
	})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected format validation error, got %v", err)
	}
}

func TestIngestBlobFailureKeepsProvenance(t *testing.T) {
	f := newRaceFixture(t)
	f.blobs.failErr = errors.New("bucket unreachable")

	report, err := f.ingestion.Ingest(context.Background(), UploadInput{
		SessionID: f.session.ID, Source: models.SourceManualUpload, UploaderID: 9,
		Filename: "race.json", Body: strings.NewReader(`[]`),
	})
	var ingestErr *IngestError
	if !errors.As(err, &ingestErr) {
		t.Fatalf("expected IngestError, got %v", err)
	}
	if report == nil || report.Provenance == nil || report.Provenance.ID != ingestErr.ProvenanceID {
		t.Fatalf("expected provenance in the partial report, got %+v", report)
	}
}

func TestRecordProvenanceValidation(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()

	_, err := f.ingestion.RecordProvenance(ctx, ProvenanceInput{Source: "fax", PayloadHash: "abc", UploaderID: 1})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Errors) != 2 {
		t.Fatalf("expected source and hash errors, got %v", err)
	}

	_, err = f.ingestion.AttachArtifact(ctx, ArtifactInput{ProvenanceID: 4242, StorageLocation: "s3://x", ContentType: "text/csv", UploaderID: 1})
	if !errors.Is(err, ErrProvenanceNotFound) {
		t.Fatalf("expected ErrProvenanceNotFound, got %v", err)
	}
}

func TestImportSheet(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()

	if _, err := f.ingestion.ImportSheet(ctx, SheetImportInput{SpreadsheetID: "abc", SessionID: f.session.ID, UploaderID: 9}); !errors.Is(err, ErrSheetImportDisabled) {
		t.Fatalf("expected ErrSheetImportDisabled, got %v", err)
	}

	reader := &fakeSheetReader{rows: [][]string{
		{"Entrant", "Pos", "Status"},
		{fmt.Sprint(f.entrants[0].ID), "1"},
		{fmt.Sprint(f.entrants[1].ID), "", "DNS"},
	}}
	svc := NewIngestionService(f.env.store, f.env.audit, f.blobs, reader, f.standings, nil, discardLogger())
	report, err := svc.ImportSheet(ctx, SheetImportInput{SpreadsheetID: "abc", SessionID: f.session.ID, UploaderID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if report.Provenance.Source != models.SourceSheetImport || report.Batch.Created != 2 {
		t.Fatalf("unexpected report %+v / %+v", report.Provenance, report.Batch)
	}
	if report.Provenance.Notes == nil || !strings.Contains(*report.Provenance.Notes, "abc") {
		t.Fatalf("expected notes to name the spreadsheet, got %v", report.Provenance.Notes)
	}
}

func TestFinalizeSessionIsAuditedOnce(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		session, err := f.ingestion.FinalizeSession(ctx, f.session.ID, 9)
		if err != nil {
			t.Fatal(err)
		}
		if !session.Finalized() {
			t.Fatal("expected finalized session")
		}
	}
	id := f.session.ID
	if got := countActions(f.env.auditEntries(t, EntitySession, &id), ActionSessionFinalized); got != 1 {
		t.Fatalf("expected one finalize audit entry, got %d", got)
	}

	session, err := f.ingestion.ReopenSession(ctx, f.session.ID, 9)
	if err != nil {
		t.Fatal(err)
	}
	if session.Finalized() {
		t.Fatal("expected reopened session")
	}
}
