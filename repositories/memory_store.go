package repositories

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/club-engine/models"
)

// memoryState - снимок всех таблиц. Транзакция работает с копией и при успехе
// подменяет ею основное состояние.
type memoryState struct {
	nextID        int
	events        map[int]models.Event
	registrations map[int]models.Registration
	checkIns      map[int]models.CheckIn
	provenance    map[int]models.Provenance
	artifacts     map[int]models.Artifact
	seasons       map[int]models.Season
	entries       map[int]models.SeasonEntry
	sessions      map[int]models.Session
	results       map[int]models.Result
}

func newMemoryState() *memoryState {
	return &memoryState{
		events:        map[int]models.Event{},
		registrations: map[int]models.Registration{},
		checkIns:      map[int]models.CheckIn{},
		provenance:    map[int]models.Provenance{},
		artifacts:     map[int]models.Artifact{},
		seasons:       map[int]models.Season{},
		entries:       map[int]models.SeasonEntry{},
		sessions:      map[int]models.Session{},
		results:       map[int]models.Result{},
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		nextID:        s.nextID,
		events:        copyMap(s.events),
		registrations: copyMap(s.registrations),
		checkIns:      copyMap(s.checkIns),
		provenance:    copyMap(s.provenance),
		artifacts:     copyMap(s.artifacts),
		seasons:       copyMap(s.seasons),
		entries:       copyMap(s.entries),
		sessions:      copyMap(s.sessions),
		results:       copyMap(s.results),
	}
}

func (s *memoryState) newID() int {
	s.nextID++
	return s.nextID
}

type memoryStore struct {
	mu  sync.Mutex
	st  *memoryState
	now func() time.Time

	auditMu sync.Mutex
	audit   []models.AuditEntry
}

// NewMemoryStore returns a Store that keeps everything in process memory.
// Transactions are fully serialized, which trivially satisfies the isolation
// the services require. Used by tests and STORAGE_DRIVER=memory.
func NewMemoryStore() Store {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) Store {
	return &memoryStore{st: newMemoryState(), now: func() time.Time { return now().UTC() }}
}

func (s *memoryStore) reposFor(tx *memoryState) Repositories {
	base := memoryBase{store: s, tx: tx}
	return Repositories{
		Events:        &memoryEventRepository{base},
		Registrations: &memoryRegistrationRepository{base},
		CheckIns:      &memoryCheckInRepository{base},
		Provenance:    &memoryProvenanceRepository{base},
		Seasons:       &memorySeasonRepository{base},
		Sessions:      &memorySessionRepository{base},
		Results:       &memoryResultRepository{base},
	}
}

func (s *memoryStore) Repos() Repositories {
	return s.reposFor(nil)
}

func (s *memoryStore) Audit() AuditRepository {
	return &memoryAuditRepository{store: s}
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.st.clone()
	if err := fn(ctx, s.reposFor(working)); err != nil {
		return err
	}
	s.st = working
	return nil
}

// WithinEventLock: WithinTx уже полностью сериализован мьютексом.
func (s *memoryStore) WithinEventLock(ctx context.Context, _ int, fn func(ctx context.Context, repos Repositories) error) error {
	return s.WithinTx(ctx, fn)
}

// memoryBase routes a call either to the transaction snapshot or to the live
// state under the store mutex.
type memoryBase struct {
	store *memoryStore
	tx    *memoryState
}

func (b memoryBase) do(fn func(st *memoryState) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.st)
}

// --- events ---

type memoryEventRepository struct{ memoryBase }

func (r *memoryEventRepository) Create(_ context.Context, e *models.Event) error {
	return r.do(func(st *memoryState) error {
		for _, existing := range st.events {
			if existing.Slug == e.Slug {
				return ErrEventSlugConflict
			}
		}
		e.ID = st.newID()
		e.CreatedAt = r.store.now()
		st.events[e.ID] = *e
		return nil
	})
}

func (r *memoryEventRepository) GetByID(_ context.Context, id int) (*models.Event, error) {
	var out *models.Event
	err := r.do(func(st *memoryState) error {
		e, ok := st.events[id]
		if !ok {
			return ErrEventNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *memoryEventRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Event, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryEventRepository) UpdateStatus(_ context.Context, id int, status models.EventStatus) error {
	return r.do(func(st *memoryState) error {
		e, ok := st.events[id]
		if !ok {
			return ErrEventNotFound
		}
		e.Status = status
		st.events[id] = e
		return nil
	})
}

// --- registrations ---

type memoryRegistrationRepository struct{ memoryBase }

func (r *memoryRegistrationRepository) Create(_ context.Context, reg *models.Registration) error {
	return r.do(func(st *memoryState) error {
		if _, ok := st.events[reg.EventID]; !ok {
			return ErrRegistrationEventInvalid
		}
		if !reg.Status.Valid() {
			return ErrRegistrationStatusInvalid
		}
		if reg.Status != models.RegistrationCanceled {
			for _, existing := range st.registrations {
				if existing.EventID == reg.EventID && existing.UserID == reg.UserID && existing.Active() {
					return ErrRegistrationConflict
				}
			}
		}
		now := r.store.now()
		reg.ID = st.newID()
		reg.CreatedAt = now
		reg.UpdatedAt = now
		st.registrations[reg.ID] = *reg
		return nil
	})
}

func (r *memoryRegistrationRepository) UpdateStatus(_ context.Context, id int, status models.RegistrationStatus) (*models.Registration, error) {
	var out *models.Registration
	err := r.do(func(st *memoryState) error {
		reg, ok := st.registrations[id]
		if !ok {
			return ErrRegistrationNotFound
		}
		if !status.Valid() {
			return ErrRegistrationStatusInvalid
		}
		reg.Status = status
		reg.UpdatedAt = r.store.now()
		st.registrations[id] = reg
		out = &reg
		return nil
	})
	return out, err
}

func (r *memoryRegistrationRepository) FindActive(_ context.Context, eventID, userID int) (*models.Registration, error) {
	var out *models.Registration
	err := r.do(func(st *memoryState) error {
		for _, reg := range st.registrations {
			if reg.EventID == eventID && reg.UserID == userID && reg.Active() {
				found := reg
				out = &found
				return nil
			}
		}
		return ErrRegistrationNotFound
	})
	return out, err
}

func (r *memoryRegistrationRepository) CountByStatus(_ context.Context, eventID int, status models.RegistrationStatus) (int, error) {
	count := 0
	err := r.do(func(st *memoryState) error {
		for _, reg := range st.registrations {
			if reg.EventID == eventID && reg.Status == status {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *memoryRegistrationRepository) NextWaitlisted(ctx context.Context, eventID, excludeID int) (*models.Registration, error) {
	status := models.RegistrationWaitlist
	waitlist, err := r.ListByEvent(ctx, eventID, &status)
	if err != nil {
		return nil, err
	}
	for _, reg := range waitlist {
		if reg.ID != excludeID {
			return reg, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

func (r *memoryRegistrationRepository) ListByEvent(_ context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	out := make([]*models.Registration, 0)
	err := r.do(func(st *memoryState) error {
		for _, reg := range st.registrations {
			if reg.EventID != eventID {
				continue
			}
			if statusFilter != nil && reg.Status != *statusFilter {
				continue
			}
			found := reg
			out = append(out, &found)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return models.WaitlistBefore(out[i], out[j]) })
	return out, err
}

// --- check-ins ---

type memoryCheckInRepository struct{ memoryBase }

func (r *memoryCheckInRepository) Create(_ context.Context, c *models.CheckIn) error {
	return r.do(func(st *memoryState) error {
		for _, existing := range st.checkIns {
			if existing.EventID == c.EventID && existing.UserID == c.UserID {
				return ErrCheckInConflict
			}
		}
		c.ID = st.newID()
		c.CheckedInAt = r.store.now()
		st.checkIns[c.ID] = *c
		return nil
	})
}

func (r *memoryCheckInRepository) FindByEventAndUser(_ context.Context, eventID, userID int) (*models.CheckIn, error) {
	var out *models.CheckIn
	err := r.do(func(st *memoryState) error {
		for _, c := range st.checkIns {
			if c.EventID == eventID && c.UserID == userID {
				found := c
				out = &found
				return nil
			}
		}
		return ErrCheckInNotFound
	})
	return out, err
}

func (r *memoryCheckInRepository) ListByEvent(_ context.Context, eventID int) ([]*models.CheckIn, error) {
	out := make([]*models.CheckIn, 0)
	err := r.do(func(st *memoryState) error {
		for _, c := range st.checkIns {
			if c.EventID == eventID {
				found := c
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memoryCheckInRepository) CountByEvent(ctx context.Context, eventID int) (int, error) {
	list, err := r.ListByEvent(ctx, eventID)
	return len(list), err
}

// --- provenance ---

type memoryProvenanceRepository struct{ memoryBase }

func (r *memoryProvenanceRepository) Create(_ context.Context, p *models.Provenance) error {
	return r.do(func(st *memoryState) error {
		p.ID = st.newID()
		p.CreatedAt = r.store.now()
		stored := *p
		stored.Artifacts = nil
		st.provenance[p.ID] = stored
		return nil
	})
}

func (r *memoryProvenanceRepository) GetByID(_ context.Context, id int) (*models.Provenance, error) {
	var out *models.Provenance
	err := r.do(func(st *memoryState) error {
		p, ok := st.provenance[id]
		if !ok {
			return ErrProvenanceNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memoryProvenanceRepository) CreateArtifact(_ context.Context, a *models.Artifact) error {
	return r.do(func(st *memoryState) error {
		if _, ok := st.provenance[a.ProvenanceID]; !ok {
			return ErrProvenanceNotFound
		}
		a.ID = st.newID()
		a.CreatedAt = r.store.now()
		st.artifacts[a.ID] = *a
		return nil
	})
}

func (r *memoryProvenanceRepository) ListArtifacts(_ context.Context, provenanceID int) ([]models.Artifact, error) {
	out := make([]models.Artifact, 0)
	err := r.do(func(st *memoryState) error {
		for _, a := range st.artifacts {
			if a.ProvenanceID == provenanceID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// --- seasons ---

type memorySeasonRepository struct{ memoryBase }

func copyPointsTable(t models.PointsTable) models.PointsTable {
	if t == nil {
		return nil
	}
	return copyMap(t)
}

func (r *memorySeasonRepository) Create(_ context.Context, s *models.Season) error {
	return r.do(func(st *memoryState) error {
		s.ID = st.newID()
		s.CreatedAt = r.store.now()
		stored := *s
		stored.PointsTable = copyPointsTable(s.PointsTable)
		st.seasons[s.ID] = stored
		return nil
	})
}

func (r *memorySeasonRepository) GetByID(_ context.Context, id int) (*models.Season, error) {
	var out *models.Season
	err := r.do(func(st *memoryState) error {
		s, ok := st.seasons[id]
		if !ok {
			return ErrSeasonNotFound
		}
		s.PointsTable = copyPointsTable(s.PointsTable)
		out = &s
		return nil
	})
	return out, err
}

func (r *memorySeasonRepository) CreateEntry(_ context.Context, e *models.SeasonEntry) error {
	return r.do(func(st *memoryState) error {
		if _, ok := st.seasons[e.SeasonID]; !ok {
			return ErrSeasonNotFound
		}
		for _, existing := range st.entries {
			if existing.SeasonID == e.SeasonID && existing.UserID == e.UserID && existing.ClassName == e.ClassName {
				return ErrSeasonEntryConflict
			}
		}
		e.ID = st.newID()
		if e.EnteredAt.IsZero() {
			e.EnteredAt = r.store.now()
		}
		st.entries[e.ID] = *e
		return nil
	})
}

func (r *memorySeasonRepository) GetEntry(_ context.Context, id int) (*models.SeasonEntry, error) {
	var out *models.SeasonEntry
	err := r.do(func(st *memoryState) error {
		e, ok := st.entries[id]
		if !ok {
			return ErrSeasonEntryNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *memorySeasonRepository) ListEntries(_ context.Context, seasonID int) ([]*models.SeasonEntry, error) {
	out := make([]*models.SeasonEntry, 0)
	err := r.do(func(st *memoryState) error {
		for _, e := range st.entries {
			if e.SeasonID == seasonID {
				found := e
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnteredAt.Equal(out[j].EnteredAt) {
			return out[i].EnteredAt.Before(out[j].EnteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// --- sessions ---

type memorySessionRepository struct{ memoryBase }

func (r *memorySessionRepository) Create(_ context.Context, s *models.Session) error {
	return r.do(func(st *memoryState) error {
		if _, ok := st.events[s.EventID]; !ok {
			return ErrSessionEventInvalid
		}
		if s.SeasonID != nil {
			if _, ok := st.seasons[*s.SeasonID]; !ok {
				return ErrSessionSeasonInvalid
			}
		}
		s.ID = st.newID()
		st.sessions[s.ID] = *s
		return nil
	})
}

func (r *memorySessionRepository) GetByID(_ context.Context, id int) (*models.Session, error) {
	var out *models.Session
	err := r.do(func(st *memoryState) error {
		s, ok := st.sessions[id]
		if !ok {
			return ErrSessionNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *memorySessionRepository) ListBySeason(_ context.Context, seasonID int) ([]*models.Session, error) {
	out := make([]*models.Session, 0)
	err := r.do(func(st *memoryState) error {
		for _, s := range st.sessions {
			if s.SeasonID != nil && *s.SeasonID == seasonID {
				found := s
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memorySessionRepository) SetFinalized(_ context.Context, id int, finalizedAt *time.Time) error {
	return r.do(func(st *memoryState) error {
		s, ok := st.sessions[id]
		if !ok {
			return ErrSessionNotFound
		}
		s.FinalizedAt = finalizedAt
		st.sessions[id] = s
		return nil
	})
}

// --- results ---

type memoryResultRepository struct{ memoryBase }

func copyResult(res models.Result) models.Result {
	if res.Penalties != nil {
		res.Penalties = append(json.RawMessage(nil), res.Penalties...)
	}
	return res
}

func (r *memoryResultRepository) Get(_ context.Context, sessionID, entrantID int) (*models.Result, error) {
	var out *models.Result
	err := r.do(func(st *memoryState) error {
		for _, res := range st.results {
			if res.SessionID == sessionID && res.EntrantID == entrantID {
				found := copyResult(res)
				out = &found
				return nil
			}
		}
		return ErrResultNotFound
	})
	return out, err
}

func (r *memoryResultRepository) Upsert(_ context.Context, res *models.Result) error {
	return r.do(func(st *memoryState) error {
		if _, ok := st.sessions[res.SessionID]; !ok {
			return ErrResultSessionInvalid
		}
		if _, ok := st.entries[res.EntrantID]; !ok {
			return ErrResultEntrantInvalid
		}
		res.ID = 0
		for id, existing := range st.results {
			if existing.SessionID == res.SessionID && existing.EntrantID == res.EntrantID {
				res.ID = id
				break
			}
		}
		if res.ID == 0 {
			res.ID = st.newID()
		}
		res.UpdatedAt = r.store.now()
		st.results[res.ID] = copyResult(*res)
		return nil
	})
}

func (r *memoryResultRepository) ListBySession(ctx context.Context, sessionID int) ([]*models.Result, error) {
	return r.ListBySessions(ctx, []int{sessionID})
}

func (r *memoryResultRepository) ListBySessions(_ context.Context, sessionIDs []int) ([]*models.Result, error) {
	wanted := make(map[int]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	out := make([]*models.Result, 0)
	err := r.do(func(st *memoryState) error {
		for _, res := range st.results {
			if wanted[res.SessionID] {
				found := copyResult(res)
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].EntrantID < out[j].EntrantID
	})
	return out, err
}

// --- audit ---

type memoryAuditRepository struct {
	store *memoryStore
}

func (r *memoryAuditRepository) Create(_ context.Context, e *models.AuditEntry) error {
	r.store.auditMu.Lock()
	defer r.store.auditMu.Unlock()
	e.ID = len(r.store.audit) + 1
	e.CreatedAt = r.store.now()
	r.store.audit = append(r.store.audit, *e)
	return nil
}

func (r *memoryAuditRepository) List(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	r.store.auditMu.Lock()
	defer r.store.auditMu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	out := make([]*models.AuditEntry, 0)
	for _, e := range r.store.audit {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != nil && e.EntityID != *filter.EntityID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		found := e
		out = append(out, &found)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
