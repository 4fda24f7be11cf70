package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/cache"
	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
)

func TestComputeStandingsAcrossFinalizedSessions(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	second := f.newSession(t)
	a, b := f.entrants[0].ID, f.entrants[1].ID

	rows := []ResultRow{
		{SessionID: f.session.ID, EntrantID: a, Fields: ResultFields{Position: intPtr(1)}},
		{SessionID: f.session.ID, EntrantID: b, Fields: ResultFields{Position: intPtr(2)}},
		{SessionID: second.ID, EntrantID: a, Fields: ResultFields{Position: intPtr(3)}},
		{SessionID: second.ID, EntrantID: b, Fields: ResultFields{Status: models.FinishDSQ, Position: intPtr(1)}},
	}
	if _, err := f.ingestion.UpsertResults(ctx, BatchInput{Rows: rows, ActorID: 9}); err != nil {
		t.Fatal(err)
	}

	got, err := f.standings.ComputeStandings(ctx, f.season.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("unfinalized sessions must not count, got %+v", got)
	}

	for _, id := range []int{f.session.ID, second.ID} {
		if _, err := f.ingestion.FinalizeSession(ctx, id, 9); err != nil {
			t.Fatal(err)
		}
	}
	got, err = f.standings.ComputeStandings(ctx, f.season.ID)
	if err != nil {
		t.Fatal(err)
	}
	pro := got["pro"]
	if len(pro) != 2 {
		t.Fatalf("expected 2 standings, got %+v", pro)
	}
	if pro[0].EntrantID != a || pro[0].Points != 40 || pro[0].Rank != 1 {
		t.Fatalf("expected entrant %d first with 40 points, got %+v", a, pro[0])
	}
	if pro[1].EntrantID != b || pro[1].Points != 18 {
		t.Fatalf("expected entrant %d with 18 points, got %+v", b, pro[1])
	}
	if n := f.env.live.count(live.SeasonRoom(f.season.ID), live.MessageStandingsUpdated); n == 0 {
		t.Fatal("expected standings broadcasts")
	}
}

func TestComputeStandingsSeesUpsertsThroughCache(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	a := f.entrants[0].ID

	if _, err := f.ingestion.UpsertResult(ctx, f.session.ID, a, ResultFields{Position: intPtr(2)}, 9); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingestion.FinalizeSession(ctx, f.session.ID, 9); err != nil {
		t.Fatal(err)
	}

	got, err := f.standings.ComputeStandings(ctx, f.season.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got["pro"][0].Points != 18 {
		t.Fatalf("expected 18 points, got %+v", got["pro"])
	}

	if _, err := f.ingestion.UpsertResult(ctx, f.session.ID, a, ResultFields{Position: intPtr(1)}, 9); err != nil {
		t.Fatal(err)
	}
	got, err = f.standings.ComputeStandings(ctx, f.season.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got["pro"][0].Points != 25 {
		t.Fatalf("expected the correction to be visible, got %+v", got["pro"])
	}
}

func TestComputeStandingsUsesSeasonPointsTable(t *testing.T) {
	f := newRaceFixture(t)
	ctx := context.Background()
	season, err := f.catalog.CreateSeason(ctx, CreateSeasonInput{Name: "Sprint Cup", Year: 2026, PointsTable: models.PointsTable{1: 10, 2: 5}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := f.catalog.CreateSeasonEntry(ctx, CreateSeasonEntryInput{SeasonID: season.ID, UserID: 500, ClassName: "am"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	session, err := f.catalog.CreateSession(ctx, CreateSessionInput{EventID: f.session.EventID, SeasonID: &season.ID, Kind: models.SessionSprint, Name: "Sprint"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingestion.UpsertResult(ctx, session.ID, entry.ID, ResultFields{Position: intPtr(2)}, 9); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingestion.FinalizeSession(ctx, session.ID, 9); err != nil {
		t.Fatal(err)
	}

	got, err := f.standings.ComputeStandings(ctx, season.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got["am"][0].Points != 5 {
		t.Fatalf("expected season table to apply, got %+v", got["am"])
	}
}

func TestComputeStandingsUnknownSeason(t *testing.T) {
	f := newRaceFixture(t)
	if _, err := f.standings.ComputeStandings(context.Background(), 4040); !errors.Is(err, ErrSeasonNotFound) {
		t.Fatalf("expected ErrSeasonNotFound, got %v", err)
	}
}

// gatedSeasons задерживает чтение сезона, пока тест не отпустит gate.
type gatedSeasons struct {
	repositories.SeasonRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSeasons) GetByID(ctx context.Context, id int) (*models.Season, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.SeasonRepository.GetByID(ctx, id)
}

type gatedStore struct {
	repositories.Store
	seasons *gatedSeasons
}

func (s *gatedStore) Repos() repositories.Repositories {
	repos := s.Store.Repos()
	repos.Seasons = s.seasons
	return repos
}

func TestComputeStandingsCancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newRaceFixture(t)
	gated := &gatedStore{
		Store: f.env.store,
		seasons: &gatedSeasons{
			SeasonRepository: f.env.store.Repos().Seasons,
			entered:          make(chan struct{}),
			release:          make(chan struct{}),
		},
	}
	svc := NewStandingsService(gated, cache.NewMemoryStandingsCache(time.Minute), nil, nil, discardLogger())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ComputeStandings(firstCtx, f.season.ID)
		firstErr <- err
	}()
	<-gated.seasons.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := svc.ComputeStandings(context.Background(), f.season.ID)
		secondErr <- err
	}()
	// даём второму вызову присоединиться к общему расчёту
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(gated.seasons.release)

	if err := <-secondErr; err != nil {
		t.Fatalf("second caller must not inherit the first caller's cancellation, got %v", err)
	}
	<-firstErr
}
