package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/eta"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

const (
	DefaultRadiusKm    = 30.0
	defaultConcurrency = 8
)

// ActiveChecker answers "is this driver mid-dispatch". storage.AssignmentStore
// satisfies it.
type ActiveChecker interface {
	OldestByDriver(ctx context.Context, driverID string, status models.Status) (*models.Assignment, error)
}

type Service struct {
	Active          ActiveChecker
	Logger          *slog.Logger
	DefaultRadiusKm float64
	Concurrency     int
	Location        *time.Location // working hours are evaluated here
	Now             func() time.Time
}

// Rank filters the roster down to drivers that can take a job at user and
// orders them by distance, then rating. radiusKm <= 0 selects the default.
func (s *Service) Rank(ctx context.Context, user models.Coord, roster []models.Driver, radiusKm float64) []models.RankedDriver {
	start := time.Now()
	if radiusKm <= 0 {
		radiusKm = s.DefaultRadiusKm
		if radiusKm <= 0 {
			radiusKm = DefaultRadiusKm
		}
	}
	now := s.now()

	cands := make([]models.RankedDriver, 0, len(roster))
	for _, d := range roster {
		if !d.Available || !d.ManuallyOnline || d.Archived || !geo.ValidCoord(d.Loc) {
			continue
		}
		dist := geo.DistanceKm(user, d.Loc)
		if dist > radiusKm || (d.MaxRadiusKm > 0 && dist > d.MaxRadiusKm) {
			continue
		}
		if !d.WorkingHours.OpenAt(now) {
			continue
		}
		cands = append(cands, models.RankedDriver{
			Driver:     d,
			DistanceKm: dist,
			ETAMinutes: eta.EstimatedArrivalMinutes(dist),
			Cell:       geo.Cell(d.Loc),
		})
	}

	cands = s.dropBusy(ctx, cands)

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.ID < b.ID
	})

	observability.RankingLatency.Observe(time.Since(start).Seconds())
	observability.RankingCandidates.Observe(float64(len(cands)))
	return cands
}

// dropBusy removes drivers holding an assigned job. Lookups run in parallel;
// a failed lookup excludes the driver rather than risk a double booking.
func (s *Service) dropBusy(ctx context.Context, cands []models.RankedDriver) []models.RankedDriver {
	if s.Active == nil || len(cands) == 0 {
		return cands
	}
	workers := s.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}
	keep := make([]bool, len(cands))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range cands {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := s.Active.OldestByDriver(ctx, cands[i].ID, models.StatusAssigned)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				keep[i] = true
			case err != nil:
				observability.RankingLookupFailures.Inc()
				s.logger().Warn("active assignment check failed, excluding driver",
					"driver_id", cands[i].ID, "error", err)
			}
		}(i)
	}
	wg.Wait()

	out := cands[:0]
	for i, c := range cands {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return t
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
