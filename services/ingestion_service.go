package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/Dosada05/club-engine/ingest"
	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
	"github.com/Dosada05/club-engine/sheets"
	"github.com/Dosada05/club-engine/storage"
	"github.com/google/uuid"
)

// MaxUploadBytes - предельный размер загружаемого протокола.
const MaxUploadBytes = 10 << 20

// MaxPosition - верхняя граница финишной позиции в одном заезде.
const MaxPosition = 10000

var payloadHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// SheetReader реализуется sheets.Client.
type SheetReader interface {
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
}

type ProvenanceInput struct {
	Source      models.ProvenanceSource `json:"source"`
	PayloadHash string                  `json:"payload_hash"`
	UploaderID  int                     `json:"-"`
	Notes       *string                 `json:"notes,omitempty"`
}

type ArtifactInput struct {
	ProvenanceID    int    `json:"-"`
	StorageLocation string `json:"storage_location"`
	ContentType     string `json:"content_type"`
	ByteSize        int64  `json:"byte_size"`
	UploaderID      int    `json:"-"`
}

// ResultFields - оценочные поля результата, которые перезаписывает upsert.
type ResultFields struct {
	Position      *int                `json:"position,omitempty"`
	Points        *int                `json:"points,omitempty"`
	BestLapMs     *int64              `json:"best_lap_ms,omitempty"`
	TotalTimeMs   *int64              `json:"total_time_ms,omitempty"`
	LapsCompleted *int                `json:"laps_completed,omitempty"`
	Status        models.FinishStatus `json:"status,omitempty"`
	Penalties     json.RawMessage     `json:"penalties,omitempty"`
	ProvenanceID  *int                `json:"provenance_id,omitempty"`
}

type ResultRow struct {
	SessionID int          `json:"session_id"`
	EntrantID int          `json:"entrant_id"`
	Fields    ResultFields `json:"fields"`
}

type BatchInput struct {
	Rows    []ResultRow `json:"rows"`
	ActorID int         `json:"-"`
}

type UpsertReport struct {
	Result   *models.Result `json:"result"`
	Previous *models.Result `json:"previous,omitempty"`
	Created  bool           `json:"created"`
}

type BatchReport struct {
	Rows    []UpsertReport `json:"rows"`
	Created int            `json:"created"`
	Updated int            `json:"updated"`
}

type UploadInput struct {
	SessionID   int
	Source      models.ProvenanceSource
	Notes       *string
	UploaderID  int
	Filename    string
	ContentType string
	Body        io.Reader
}

type IngestReport struct {
	Provenance *models.Provenance `json:"provenance"`
	Artifact   *models.Artifact   `json:"artifact"`
	Batch      *BatchReport       `json:"batch"`
}

type SheetImportInput struct {
	SpreadsheetID string  `json:"spreadsheet_id"`
	Range         string  `json:"range,omitempty"`
	SessionID     int     `json:"-"`
	UploaderID    int     `json:"-"`
	Notes         *string `json:"notes,omitempty"`
}

type IngestionService struct {
	store     repositories.Store
	audit     *SafeAuditor
	blobs     storage.BlobStore
	sheets    SheetReader
	standings *StandingsService
	live      Broadcaster
	logger    *slog.Logger
	clock     Clock

	maxRetries int
}

// NewIngestionService: sheetReader может быть nil, тогда импорт из таблиц выключен.
func NewIngestionService(store repositories.Store, audit *SafeAuditor, blobs storage.BlobStore, sheetReader SheetReader, standings *StandingsService, broadcaster Broadcaster, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		store:     store,
		audit:     audit,
		blobs:     blobs,
		sheets:    sheetReader,
		standings: standings,
		live:      broadcaster,
		logger:    logger,

		maxRetries: DefaultTxRetries,
	}
}

func (s *IngestionService) WithClock(clock Clock) *IngestionService {
	s.clock = clock
	return s
}

// WithMaxRetries задаёт число попыток при конфликте сериализации.
func (s *IngestionService) WithMaxRetries(n int) *IngestionService {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// --- provenance ---

func (s *IngestionService) RecordProvenance(ctx context.Context, in ProvenanceInput) (*models.Provenance, error) {
	verr := &ValidationError{}
	if !in.Source.Valid() {
		verr.add("source", "unknown source %q", in.Source)
	}
	if !payloadHashPattern.MatchString(in.PayloadHash) {
		verr.add("payload_hash", "must be a lowercase hex sha256 digest")
	}
	if in.UploaderID <= 0 {
		verr.add("uploader_id", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	p := &models.Provenance{
		Source:      in.Source,
		PayloadHash: in.PayloadHash,
		UploaderID:  in.UploaderID,
		Notes:       in.Notes,
	}
	if err := s.store.Repos().Provenance.Create(ctx, p); err != nil {
		return nil, storageFault("create provenance", err)
	}
	s.audit.Record(ctx, auditEntry(in.UploaderID, ActionProvenanceRecorded, EntityProvenance, p.ID,
		fmt.Sprintf("%s payload %s recorded", p.Source, p.PayloadHash[:12]), nil, p))
	return p, nil
}

func (s *IngestionService) AttachArtifact(ctx context.Context, in ArtifactInput) (*models.Artifact, error) {
	verr := &ValidationError{}
	if in.StorageLocation == "" {
		verr.add("storage_location", "is required")
	}
	if in.ContentType == "" {
		verr.add("content_type", "is required")
	}
	if in.ByteSize < 0 {
		verr.add("byte_size", "must not be negative")
	}
	if in.UploaderID <= 0 {
		verr.add("uploader_id", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	a := &models.Artifact{
		ProvenanceID:    in.ProvenanceID,
		StorageLocation: in.StorageLocation,
		ContentType:     in.ContentType,
		ByteSize:        in.ByteSize,
		CreatedBy:       in.UploaderID,
	}
	if err := s.store.Repos().Provenance.CreateArtifact(ctx, a); err != nil {
		if errors.Is(err, repositories.ErrProvenanceNotFound) {
			return nil, ErrProvenanceNotFound
		}
		return nil, storageFault("create artifact", err)
	}
	s.audit.Record(ctx, auditEntry(in.UploaderID, ActionArtifactAttached, EntityArtifact, a.ID,
		fmt.Sprintf("artifact %s attached to provenance %d", a.StorageLocation, a.ProvenanceID), nil, a))
	return a, nil
}

func (s *IngestionService) GetProvenance(ctx context.Context, id int) (*models.Provenance, error) {
	repos := s.store.Repos()
	p, err := repos.Provenance.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrProvenanceNotFound) {
			return nil, ErrProvenanceNotFound
		}
		return nil, storageFault("load provenance", err)
	}
	if p.Artifacts, err = repos.Provenance.ListArtifacts(ctx, id); err != nil {
		return nil, storageFault("list artifacts", err)
	}
	return p, nil
}

// --- results ---

// validateFields проверяет диапазоны и подставляет статус finished по умолчанию.
func validateFields(f *ResultFields) []FieldError {
	verr := &ValidationError{}
	if f.Position != nil {
		switch {
		case *f.Position <= 0:
			verr.add("position", "must be greater than 0")
		case *f.Position > MaxPosition:
			verr.add("position", "must not exceed %d", MaxPosition)
		}
	}
	if f.Points != nil && *f.Points < 0 {
		verr.add("points", "must not be negative")
	}
	if f.BestLapMs != nil && *f.BestLapMs <= 0 {
		verr.add("best_lap_ms", "must be greater than 0")
	}
	if f.TotalTimeMs != nil && *f.TotalTimeMs <= 0 {
		verr.add("total_time_ms", "must be greater than 0")
	}
	if f.LapsCompleted != nil && *f.LapsCompleted <= 0 {
		verr.add("laps_completed", "must be greater than 0")
	}
	if f.Status == "" {
		f.Status = models.FinishFinished
	} else if !f.Status.Valid() {
		verr.add("status", "unknown finish status %q", f.Status)
	}
	if len(f.Penalties) > 0 && !json.Valid(f.Penalties) {
		verr.add("penalties", "must be valid JSON")
	}
	return verr.Errors
}

func (f ResultFields) toResult(sessionID, entrantID, actorID int) *models.Result {
	return &models.Result{
		SessionID:     sessionID,
		EntrantID:     entrantID,
		Position:      f.Position,
		Points:        f.Points,
		BestLapMs:     f.BestLapMs,
		TotalTimeMs:   f.TotalTimeMs,
		LapsCompleted: f.LapsCompleted,
		Status:        f.Status,
		Penalties:     f.Penalties,
		ProvenanceID:  f.ProvenanceID,
		UpdatedBy:     actorID,
	}
}

// UpsertResult создаёт или перезаписывает результат участника в сессии.
// Повтор с теми же полями оставляет строку неизменной, но снова пишет аудит.
func (s *IngestionService) UpsertResult(ctx context.Context, sessionID, entrantID int, fields ResultFields, actorID int) (*UpsertReport, error) {
	if fieldErrs := validateFields(&fields); len(fieldErrs) > 0 {
		return nil, &ValidationError{Errors: fieldErrs}
	}

	var (
		report  *UpsertReport
		session *models.Session
	)
	err := runWithRetry(ctx, s.store, s.maxRetries, s.logger, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		if session, err = loadSession(ctx, repos, sessionID); err != nil {
			return err
		}
		entrant, err := repos.Seasons.GetEntry(ctx, entrantID)
		if err != nil {
			if errors.Is(err, repositories.ErrSeasonEntryNotFound) {
				return ErrEntrantNotFound
			}
			return storageFault("load entrant", err)
		}
		if !entrantFitsSession(entrant, session) {
			return &ValidationError{Errors: []FieldError{{Field: "entrant_id", Message: "entrant is not entered in the session's season"}}}
		}
		report, err = upsertOne(ctx, repos, sessionID, entrantID, fields, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, resultAuditEntry(actorID, report))
	s.resultsChanged(ctx, []*models.Session{session})
	return report, nil
}

// UpsertResults применяет пакет атомарно: сначала проверяются все строки, и при
// любой ошибке не записывается ни одна.
func (s *IngestionService) UpsertResults(ctx context.Context, in BatchInput) (*BatchReport, error) {
	if len(in.Rows) == 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "rows", Message: "must contain at least one row"}}}
	}
	rows := make([]ResultRow, len(in.Rows))
	copy(rows, in.Rows)

	var (
		report   *BatchReport
		sessions map[int]*models.Session
	)
	err := runWithRetry(ctx, s.store, s.maxRetries, s.logger, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		sessions, err = validateBatch(ctx, repos, rows)
		if err != nil {
			return err
		}
		report = &BatchReport{Rows: make([]UpsertReport, 0, len(rows))}
		for _, row := range rows {
			r, err := upsertOne(ctx, repos, row.SessionID, row.EntrantID, row.Fields, in.ActorID)
			if err != nil {
				return err
			}
			if r.Created {
				report.Created++
			} else {
				report.Updated++
			}
			report.Rows = append(report.Rows, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]models.AuditEntry, 0, len(report.Rows))
	for i := range report.Rows {
		entries = append(entries, resultAuditEntry(in.ActorID, &report.Rows[i]))
	}
	s.audit.Record(ctx, entries...)

	touched := make([]*models.Session, 0, len(sessions))
	for _, sess := range sessions {
		touched = append(touched, sess)
	}
	s.resultsChanged(ctx, touched)
	s.logger.InfoContext(ctx, "result batch committed",
		slog.Int("rows", len(report.Rows)), slog.Int("created", report.Created), slog.Int("updated", report.Updated))
	return report, nil
}

// validateBatch собирает ошибки всех строк. Сессии и участники читаются в той же
// транзакции, что и запись.
func validateBatch(ctx context.Context, repos repositories.Repositories, rows []ResultRow) (map[int]*models.Session, error) {
	sessions := map[int]*models.Session{}
	missingSessions := map[int]bool{}
	entrants := map[int]*models.SeasonEntry{}
	missingEntrants := map[int]bool{}
	type key struct{ session, entrant int }
	seen := map[key]int{}

	batchErr := &BatchValidationError{}
	for i := range rows {
		row := &rows[i]
		fieldErrs := validateFields(&row.Fields)

		session := sessions[row.SessionID]
		if session == nil && !missingSessions[row.SessionID] {
			sess, err := repos.Sessions.GetByID(ctx, row.SessionID)
			switch {
			case err == nil:
				sessions[row.SessionID] = sess
				session = sess
			case errors.Is(err, repositories.ErrSessionNotFound):
				missingSessions[row.SessionID] = true
			default:
				return nil, storageFault("load session", err)
			}
		}
		if session == nil {
			fieldErrs = append(fieldErrs, FieldError{Field: "session_id", Message: "session not found"})
		}

		entrant := entrants[row.EntrantID]
		if entrant == nil && !missingEntrants[row.EntrantID] {
			e, err := repos.Seasons.GetEntry(ctx, row.EntrantID)
			switch {
			case err == nil:
				entrants[row.EntrantID] = e
				entrant = e
			case errors.Is(err, repositories.ErrSeasonEntryNotFound):
				missingEntrants[row.EntrantID] = true
			default:
				return nil, storageFault("load entrant", err)
			}
		}
		if entrant == nil {
			fieldErrs = append(fieldErrs, FieldError{Field: "entrant_id", Message: "entrant not found"})
		} else if session != nil && !entrantFitsSession(entrant, session) {
			fieldErrs = append(fieldErrs, FieldError{Field: "entrant_id", Message: "entrant is not entered in the session's season"})
		}

		k := key{row.SessionID, row.EntrantID}
		if first, dup := seen[k]; dup {
			fieldErrs = append(fieldErrs, FieldError{Field: "entrant_id", Message: fmt.Sprintf("duplicates row %d", first)})
		} else {
			seen[k] = i + 1
		}

		if len(fieldErrs) > 0 {
			batchErr.Rows = append(batchErr.Rows, RowError{Row: i + 1, SessionID: row.SessionID, EntrantID: row.EntrantID, Errors: fieldErrs})
		}
	}
	if len(batchErr.Rows) > 0 {
		return nil, batchErr
	}
	return sessions, nil
}

func upsertOne(ctx context.Context, repos repositories.Repositories, sessionID, entrantID int, fields ResultFields, actorID int) (*UpsertReport, error) {
	previous, err := repos.Results.Get(ctx, sessionID, entrantID)
	if err != nil && !errors.Is(err, repositories.ErrResultNotFound) {
		return nil, storageFault("load previous result", err)
	}
	res := fields.toResult(sessionID, entrantID, actorID)
	if err := repos.Results.Upsert(ctx, res); err != nil {
		switch {
		case errors.Is(err, repositories.ErrResultSessionInvalid):
			return nil, ErrSessionNotFound
		case errors.Is(err, repositories.ErrResultEntrantInvalid):
			return nil, ErrEntrantNotFound
		}
		return nil, storageFault("upsert result", err)
	}
	return &UpsertReport{Result: res, Previous: previous, Created: previous == nil}, nil
}

func resultAuditEntry(actorID int, r *UpsertReport) models.AuditEntry {
	summary := fmt.Sprintf("result for entrant %d in session %d created", r.Result.EntrantID, r.Result.SessionID)
	if !r.Created {
		summary = fmt.Sprintf("result for entrant %d in session %d overwritten", r.Result.EntrantID, r.Result.SessionID)
	}
	return auditEntry(actorID, ActionResultUpserted, EntityResult, r.Result.ID, summary, r.Previous, r.Result)
}

// entrantFitsSession: участник сезона может иметь результат только в сессиях своего сезона.
func entrantFitsSession(entrant *models.SeasonEntry, session *models.Session) bool {
	return session.SeasonID == nil || *session.SeasonID == entrant.SeasonID
}

func loadSession(ctx context.Context, repos repositories.Repositories, sessionID int) (*models.Session, error) {
	session, err := repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageFault("load session", err)
	}
	return session, nil
}

func (s *IngestionService) resultsChanged(ctx context.Context, sessions []*models.Session) {
	seasonSet := map[int]bool{}
	for _, sess := range sessions {
		broadcast(s.live, live.EventRoom(sess.EventID), live.MessageResultsUpdated, map[string]int{"session_id": sess.ID})
		if sess.SeasonID != nil {
			seasonSet[*sess.SeasonID] = true
		}
	}
	seasonIDs := make([]int, 0, len(seasonSet))
	for id := range seasonSet {
		seasonIDs = append(seasonIDs, id)
	}
	sort.Ints(seasonIDs)
	if s.standings != nil {
		s.standings.StandingsChanged(ctx, seasonIDs...)
	}
}

// --- upload pipeline ---

// Ingest сохраняет provenance и артефакт до разбора, поэтому они остаются в
// системе, даже если строки протокола не прошли проверку.
func (s *IngestionService) Ingest(ctx context.Context, in UploadInput) (*IngestReport, error) {
	verr := &ValidationError{}
	if !in.Source.Valid() {
		verr.add("source", "unknown source %q", in.Source)
	}
	format, formatErr := ingest.DetectFormat(in.ContentType, in.Filename)
	if formatErr != nil {
		verr.add("file", "%v", formatErr)
	}
	if in.Body == nil {
		verr.add("file", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(in.Body, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(payload) == 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "file", Message: "is empty"}}}
	}
	if len(payload) > MaxUploadBytes {
		return nil, &ValidationError{Errors: []FieldError{{Field: "file", Message: fmt.Sprintf("exceeds %d bytes", MaxUploadBytes)}}}
	}

	if _, err := loadSession(ctx, s.store.Repos(), in.SessionID); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(payload)
	prov, err := s.RecordProvenance(ctx, ProvenanceInput{
		Source:      in.Source,
		PayloadHash: hex.EncodeToString(sum[:]),
		UploaderID:  in.UploaderID,
		Notes:       in.Notes,
	})
	if err != nil {
		return nil, err
	}
	report := &IngestReport{Provenance: prov}

	key := fmt.Sprintf("results/%d/%s%s", prov.ID, uuid.NewString(), format.Ext())
	uploaded, err := s.blobs.Upload(ctx, key, format.ContentType(), bytes.NewReader(payload))
	if err != nil {
		return report, &IngestError{ProvenanceID: prov.ID, Err: fmt.Errorf("store artifact: %w", err)}
	}
	artifact, err := s.AttachArtifact(ctx, ArtifactInput{
		ProvenanceID:    prov.ID,
		StorageLocation: uploaded.Location,
		ContentType:     format.ContentType(),
		ByteSize:        int64(len(payload)),
		UploaderID:      in.UploaderID,
	})
	if err != nil {
		return report, &IngestError{ProvenanceID: prov.ID, Err: err}
	}
	report.Artifact = artifact

	parsed, err := ingest.Parse(format, payload)
	if err != nil {
		var perr *ingest.ParseError
		if errors.As(err, &perr) {
			err = parseProblemsToBatchError(perr)
		}
		s.logger.WarnContext(ctx, "result payload rejected",
			slog.Int("provenance_id", prov.ID), slog.Any("error", err))
		return report, &IngestError{ProvenanceID: prov.ID, Err: err}
	}

	batch := BatchInput{ActorID: in.UploaderID, Rows: make([]ResultRow, 0, len(parsed))}
	provID := prov.ID
	for _, r := range parsed {
		batch.Rows = append(batch.Rows, ResultRow{
			SessionID: in.SessionID,
			EntrantID: r.EntrantID,
			Fields: ResultFields{
				Position:      r.Position,
				Points:        r.Points,
				BestLapMs:     r.BestLapMs,
				TotalTimeMs:   r.TotalTimeMs,
				LapsCompleted: r.LapsCompleted,
				Status:        models.FinishStatus(r.Status),
				Penalties:     r.Penalties,
				ProvenanceID:  &provID,
			},
		})
	}
	batchReport, err := s.UpsertResults(ctx, batch)
	if err != nil {
		return report, &IngestError{ProvenanceID: prov.ID, Err: err}
	}
	report.Batch = batchReport
	return report, nil
}

func parseProblemsToBatchError(perr *ingest.ParseError) *BatchValidationError {
	byLine := map[int]*RowError{}
	var order []int
	for _, p := range perr.Problems {
		re, ok := byLine[p.Line]
		if !ok {
			re = &RowError{Row: p.Line}
			byLine[p.Line] = re
			order = append(order, p.Line)
		}
		re.Errors = append(re.Errors, FieldError{Field: p.Field, Message: p.Message})
	}
	out := &BatchValidationError{Rows: make([]RowError, 0, len(order))}
	for _, line := range order {
		out.Rows = append(out.Rows, *byLine[line])
	}
	return out
}

// ImportSheet читает диапазон Google Sheets и прогоняет его через Ingest как CSV.
func (s *IngestionService) ImportSheet(ctx context.Context, in SheetImportInput) (*IngestReport, error) {
	if s.sheets == nil {
		return nil, ErrSheetImportDisabled
	}
	if in.SpreadsheetID == "" {
		return nil, &ValidationError{Errors: []FieldError{{Field: "spreadsheet_id", Message: "is required"}}}
	}
	rng := in.Range
	if rng == "" {
		rng = sheets.DefaultRange
	}

	rows, err := s.sheets.ReadRange(ctx, in.SpreadsheetID, rng)
	if err != nil {
		if errors.Is(err, sheets.ErrEmptySheet) {
			return nil, &ValidationError{Errors: []FieldError{{Field: "range", Message: "contains no rows"}}}
		}
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	payload, err := sheets.ToCSV(rows)
	if err != nil {
		return nil, fmt.Errorf("convert spreadsheet: %w", err)
	}

	notes := in.Notes
	if notes == nil {
		n := fmt.Sprintf("spreadsheet %s range %s", in.SpreadsheetID, rng)
		notes = &n
	}
	return s.Ingest(ctx, UploadInput{
		SessionID:   in.SessionID,
		Source:      models.SourceSheetImport,
		Notes:       notes,
		UploaderID:  in.UploaderID,
		Filename:    "sheet.csv",
		ContentType: "text/csv",
		Body:        bytes.NewReader(payload),
	})
}

// --- session lifecycle ---

// FinalizeSession фиксирует результаты сессии; только такие сессии идут в зачёт.
func (s *IngestionService) FinalizeSession(ctx context.Context, sessionID, actorID int) (*models.Session, error) {
	now := s.clock.now()
	return s.setFinalized(ctx, sessionID, actorID, &now, ActionSessionFinalized)
}

func (s *IngestionService) ReopenSession(ctx context.Context, sessionID, actorID int) (*models.Session, error) {
	return s.setFinalized(ctx, sessionID, actorID, nil, ActionSessionReopened)
}

func (s *IngestionService) setFinalized(ctx context.Context, sessionID, actorID int, at *time.Time, action string) (*models.Session, error) {
	var (
		before, after *models.Session
		changed       bool
	)
	err := runWithRetry(ctx, s.store, s.maxRetries, s.logger, func(ctx context.Context, repos repositories.Repositories) error {
		session, err := loadSession(ctx, repos, sessionID)
		if err != nil {
			return err
		}
		b := *session
		before, after = &b, session
		if session.Finalized() == (at != nil) {
			changed = false
			return nil
		}
		if err := repos.Sessions.SetFinalized(ctx, sessionID, at); err != nil {
			return storageFault("update session", err)
		}
		after.FinalizedAt = at
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit.Record(ctx, auditEntry(actorID, action, EntitySession, sessionID,
			fmt.Sprintf("session %d %s", sessionID, action), before, after))
		s.resultsChanged(ctx, []*models.Session{after})
	}
	return after, nil
}
