package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/Dosada05/club-engine/cache"
	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/models"
	"github.com/Dosada05/club-engine/repositories"
	"github.com/Dosada05/club-engine/standings"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// StandingsCache реализуется cache.RedisStandingsCache и cache.MemoryStandingsCache.
type StandingsCache interface {
	Lookup(ctx context.Context, seasonID int) (models.SeasonStandings, cache.Generation, error)
	Store(ctx context.Context, seasonID int, gen cache.Generation, standings models.SeasonStandings) error
	Invalidate(ctx context.Context, seasonIDs ...int) error
}

type StandingsService struct {
	store        repositories.Store
	cache        StandingsCache
	broadcaster  Broadcaster
	defaultTable models.PointsTable
	logger       *slog.Logger
	group        singleflight.Group
}

// NewStandingsService: cache может быть nil, тогда зачёт считается на каждый запрос.
func NewStandingsService(store repositories.Store, standingsCache StandingsCache, broadcaster Broadcaster, defaultTable models.PointsTable, logger *slog.Logger) *StandingsService {
	if defaultTable == nil {
		defaultTable = models.DefaultPointsTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StandingsService{
		store:        store,
		cache:        standingsCache,
		broadcaster:  broadcaster,
		defaultTable: defaultTable,
		logger:       logger,
	}
}

// ComputeStandings возвращает зачёт сезона по классам. Ничего не сохраняет.
func (s *StandingsService) ComputeStandings(ctx context.Context, seasonID int) (models.SeasonStandings, error) {
	var gen cache.Generation
	if s.cache != nil {
		cached, g, err := s.cache.Lookup(ctx, seasonID)
		if err != nil {
			s.logger.WarnContext(ctx, "standings cache lookup failed", slog.Int("season_id", seasonID), slog.Any("error", err))
		} else if cached != nil {
			return cached, nil
		}
		gen = g
	}

	key := strconv.Itoa(seasonID) + ":" + strconv.FormatInt(int64(gen), 10)
	// общий расчёт не должен зависеть от отмены первого вызывающего
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.compute(shared, seasonID, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(models.SeasonStandings), nil
}

func (s *StandingsService) compute(ctx context.Context, seasonID int, gen cache.Generation) (models.SeasonStandings, error) {
	repos := s.store.Repos()

	season, err := repos.Seasons.GetByID(ctx, seasonID)
	if err != nil {
		if errors.Is(err, repositories.ErrSeasonNotFound) {
			return nil, ErrSeasonNotFound
		}
		return nil, storageFault("load season", err)
	}

	var (
		entries  []*models.SeasonEntry
		sessions []*models.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if entries, err = repos.Seasons.ListEntries(gctx, seasonID); err != nil {
			return storageFault("list season entries", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if sessions, err = repos.Sessions.ListBySeason(gctx, seasonID); err != nil {
			return storageFault("list season sessions", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sessionIDs := make([]int, 0, len(sessions))
	for _, sess := range sessions {
		if sess.CountsForStandings() {
			sessionIDs = append(sessionIDs, sess.ID)
		}
	}
	var results []*models.Result
	if len(sessionIDs) > 0 {
		if results, err = repos.Results.ListBySessions(ctx, sessionIDs); err != nil {
			return nil, storageFault("list session results", err)
		}
	}

	table := s.defaultTable
	if len(season.PointsTable) > 0 {
		table = season.PointsTable
	}
	out := standings.Compute(seasonID, entries, sessions, results, table)

	if s.cache != nil {
		if err := s.cache.Store(ctx, seasonID, gen, out); err != nil {
			s.logger.WarnContext(ctx, "standings cache store failed", slog.Int("season_id", seasonID), slog.Any("error", err))
		}
	}
	return out, nil
}

// StandingsChanged сбрасывает кэш и уведомляет подписчиков сезонов.
func (s *StandingsService) StandingsChanged(ctx context.Context, seasonIDs ...int) {
	if len(seasonIDs) == 0 {
		return
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, seasonIDs...); err != nil {
			s.logger.ErrorContext(ctx, "standings cache invalidation failed", slog.Any("season_ids", seasonIDs), slog.Any("error", err))
		}
	}
	for _, id := range seasonIDs {
		broadcast(s.broadcaster, live.SeasonRoom(id), live.MessageStandingsUpdated, map[string]int{"season_id": id})
	}
}
