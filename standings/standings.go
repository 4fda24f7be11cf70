// Package standings computes season standings from finalized session results.
// It performs no I/O: callers load entries, sessions and results and pass them in.
package standings

import (
	"sort"

	"github.com/Dosada05/club-engine/models"
)

// ResultPoints returns the points a single result contributes.
// A manual override always wins; disqualified and non-starting entrants score
// nothing; an unclassified result (no position) scores nothing.
func ResultPoints(r *models.Result, table models.PointsTable) int {
	if r.Points != nil {
		return *r.Points
	}
	switch r.Status {
	case models.FinishDSQ, models.FinishDNS:
		return 0
	}
	if r.Position == nil {
		return 0
	}
	return table.PointsFor(*r.Position)
}

// countsAsFinish reports whether the result enters the finishing-position distribution.
func countsAsFinish(r *models.Result) bool {
	if r.Position == nil || *r.Position < 1 {
		return false
	}
	return r.Status != models.FinishDSQ && r.Status != models.FinishDNS
}

type accumulator struct {
	entry    *models.SeasonEntry
	standing models.Standing
	finishes map[int]int
}

// finishCounts flattens the position histogram into ascending order.
func (a *accumulator) finishCounts() []models.FinishCount {
	out := make([]models.FinishCount, 0, len(a.finishes))
	for pos, n := range a.finishes {
		out = append(out, models.FinishCount{Position: pos, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Compute aggregates results of the season's counted sessions into per-class
// standings. Sessions that are not scored, not finalized or belong to another
// season are ignored, as are results for unknown entrants. Entrants without any
// counted result are left out.
func Compute(seasonID int, entries []*models.SeasonEntry, sessions []*models.Session, results []*models.Result, table models.PointsTable) models.SeasonStandings {
	counted := make(map[int]bool, len(sessions))
	for _, s := range sessions {
		if s.CountsForStandings() && *s.SeasonID == seasonID {
			counted[s.ID] = true
		}
	}

	byEntrant := make(map[int]*models.SeasonEntry, len(entries))
	for _, e := range entries {
		if e.SeasonID == seasonID {
			byEntrant[e.ID] = e
		}
	}

	acc := make(map[int]*accumulator)
	for _, r := range results {
		if !counted[r.SessionID] {
			continue
		}
		entry, ok := byEntrant[r.EntrantID]
		if !ok {
			continue
		}
		a, ok := acc[entry.ID]
		if !ok {
			a = &accumulator{
				entry: entry,
				standing: models.Standing{
					EntrantID: entry.ID,
					UserID:    entry.UserID,
					ClassName: entry.ClassName,
				},
				finishes: make(map[int]int),
			}
			acc[entry.ID] = a
		}
		a.standing.Points += ResultPoints(r, table)
		a.standing.RacesCounted++
		if countsAsFinish(r) {
			pos := *r.Position
			a.finishes[pos]++
			if pos == 1 {
				a.standing.Wins++
			}
			if pos <= 3 {
				a.standing.Podiums++
			}
		}
	}

	byClass := make(map[string][]*accumulator)
	for _, a := range acc {
		a.standing.FinishCounts = a.finishCounts()
		byClass[a.entry.ClassName] = append(byClass[a.entry.ClassName], a)
	}

	out := make(models.SeasonStandings, len(byClass))
	for class, list := range byClass {
		sort.Slice(list, func(i, j int) bool { return ranksBefore(list[i], list[j]) })
		rows := make([]models.Standing, len(list))
		for i, a := range list {
			a.standing.Rank = i + 1
			rows[i] = a.standing
		}
		out[class] = rows
	}
	return out
}

// ranksBefore: points desc, then finish distribution (more wins, then more
// seconds, ...), then earlier season entry, then lower entrant id.
func ranksBefore(a, b *accumulator) bool {
	if a.standing.Points != b.standing.Points {
		return a.standing.Points > b.standing.Points
	}
	if c := compareFinishCounts(a.standing.FinishCounts, b.standing.FinishCounts); c != 0 {
		return c > 0
	}
	if !a.entry.EnteredAt.Equal(b.entry.EnteredAt) {
		return a.entry.EnteredAt.Before(b.entry.EnteredAt)
	}
	return a.entry.ID < b.entry.ID
}

// compareFinishCounts returns >0 when a has the better distribution. Both
// slices are sorted by position; a missing position counts as zero finishes.
func compareFinishCounts(a, b []models.FinishCount) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var av, bv int
		switch {
		case j == len(b) || (i < len(a) && a[i].Position < b[j].Position):
			av = a[i].Count
			i++
		case i == len(a) || b[j].Position < a[i].Position:
			bv = b[j].Count
			j++
		default:
			av, bv = a[i].Count, b[j].Count
			i++
			j++
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}
