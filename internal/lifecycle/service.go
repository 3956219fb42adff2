// Package lifecycle owns assignment creation and every status change. All
// changes are conditional on the prior status, so the admin dashboard, the
// IVR and driver messages can race on one row safely.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/idgen"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/roster"
	"github.com/example/roadside-dispatch/internal/storage"
)

const DefaultMaxIVRAttempts = 3

type Options struct {
	OperatorEmail  string
	MaxIVRAttempts int
}

type Service struct {
	store    storage.AssignmentStore
	drivers  roster.Directory
	ids      *idgen.Generator
	notifier dispatch.Notifier
	logger   *slog.Logger
	opts     Options
}

func New(store storage.AssignmentStore, drivers roster.Directory, ids *idgen.Generator, notifier dispatch.Notifier, logger *slog.Logger, opts Options) *Service {
	if ids == nil {
		ids = idgen.New()
	}
	if opts.MaxIVRAttempts <= 0 {
		opts.MaxIVRAttempts = DefaultMaxIVRAttempts
	}
	return &Service{
		store:    store,
		drivers:  drivers,
		ids:      ids,
		notifier: notifier,
		logger:   logging.Component(logger, "lifecycle"),
		opts:     opts,
	}
}

// CreateRequest is a booking for a driver the customer already picked.
// AssignmentID and HelpID are optional; malformed or taken values are
// replaced with generated ones.
type CreateRequest struct {
	AssignmentID string          `json:"assignmentId"`
	HelpID       string          `json:"helpId"`
	DriverID     string          `json:"driverId"`
	UserLocation models.Location `json:"userLocation"`
	UserPhone    string          `json:"userPhone"`
	Notes        string          `json:"notes"`
	Status       models.Status   `json:"status"`
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.DriverID) == "" {
		return apperr.Invalid("driverId", "required")
	}
	if !geo.ValidCoord(r.UserLocation.Coord) {
		return apperr.Invalid("userLocation", "coordinates missing or out of range")
	}
	if r.Status != "" && r.Status != models.StatusPending {
		return apperr.Invalid("status", "new assignments start as pending")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Assignment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	driver, err := s.drivers.Get(ctx, req.DriverID)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", req.DriverID, err)
	}
	if driver.Archived {
		return nil, apperr.Invalid("driverId", "driver is archived")
	}

	ids, err := s.clientIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	a := &models.Assignment{
		DriverID: driver.ID,
		Driver: models.DriverSnapshot{
			Name:        driver.Name,
			Phone:       driver.Phone,
			VehicleType: driver.VehicleType,
		},
		UserLocation: req.UserLocation,
		UserPhone:    strings.TrimSpace(req.UserPhone),
		Notes:        strings.TrimSpace(req.Notes),
		Status:       models.StatusPending,
	}

	for attempt := 0; ; attempt++ {
		a.ID, a.HelpID, a.HelpCode = ids.AssignmentID, ids.HelpID, ids.HelpCode
		err = s.store.Create(ctx, a)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrDuplicateID) || attempt > 0 {
			return nil, err
		}
		s.logger.Warn("id collision, regenerating", "assignment_id", a.ID, "help_id", a.HelpID)
		if ids, err = s.ids.Reserve(ctx, s.store.HelpIDTaken); err != nil {
			return nil, err
		}
	}

	observability.AssignmentsCreated.Inc()
	s.logger.Info("assignment created", "assignment_id", a.ID, "help_id", a.HelpID, "driver_id", a.DriverID)
	s.notify(ctx, dispatch.EventCreated, a)
	return a, nil
}

// clientIDs keeps well-formed ids supplied by the booking client when they
// are still free, and generates the rest.
func (s *Service) clientIDs(ctx context.Context, req CreateRequest) (idgen.Pair, error) {
	gen, err := s.ids.Reserve(ctx, s.store.HelpIDTaken)
	if err != nil {
		return idgen.Pair{}, err
	}
	if idgen.ValidAssignmentID(req.AssignmentID) {
		if _, err := s.store.Get(ctx, req.AssignmentID); errors.Is(err, apperr.ErrNotFound) {
			gen.AssignmentID = req.AssignmentID
		}
	}
	if idgen.ValidHelpID(req.HelpID) {
		code := idgen.KeypadCode(req.HelpID)
		if taken, err := s.store.HelpIDTaken(ctx, req.HelpID, code); err == nil && !taken {
			gen.HelpID, gen.HelpCode = req.HelpID, code
		}
	}
	return gen, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.AssignmentView, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	views := s.views(ctx, []models.Assignment{*a})
	return &views[0], nil
}

func (s *Service) List(ctx context.Context, f storage.ListFilter) ([]models.AssignmentView, error) {
	rows, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, rows), nil
}

// views resolves live driver display fields, falling back to the snapshot
// taken at creation when the driver is gone or archived.
func (s *Service) views(ctx context.Context, rows []models.Assignment) []models.AssignmentView {
	cache := map[string]*models.Driver{}
	out := make([]models.AssignmentView, 0, len(rows))
	for _, a := range rows {
		v := models.AssignmentView{
			Assignment:    a,
			DriverName:    a.Driver.Name,
			DriverPhone:   a.Driver.Phone,
			DriverVehicle: a.Driver.VehicleType,
		}
		d, seen := cache[a.DriverID]
		if !seen {
			got, err := s.drivers.Get(ctx, a.DriverID)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				s.logger.Warn("driver lookup failed, using snapshot", "driver_id", a.DriverID, "error", err)
				out = append(out, v)
				continue
			}
			d = got
			cache[a.DriverID] = d
		}
		if d == nil || d.Archived {
			v.DriverDeleted = true
		} else {
			v.DriverName, v.DriverPhone, v.DriverVehicle = d.Name, d.Phone, d.VehicleType
		}
		out = append(out, v)
	}
	return out
}

// Transition applies an admin status change. expected pins the prior status
// the operator saw; nil means whatever the row holds now.
func (s *Service) Transition(ctx context.Context, id string, expected *models.Status, next models.Status) (*models.Assignment, error) {
	if !next.IsValid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", next))
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := current.Status
	if expected != nil {
		from = *expected
	}
	if !Allowed(SourceAdmin, from, next) {
		return nil, apperr.Invalid("status", fmt.Sprintf("cannot change %s to %s", from, next))
	}
	return s.apply(ctx, SourceAdmin, id, from, next)
}

func (s *Service) apply(ctx context.Context, src Source, id string, from, to models.Status) (*models.Assignment, error) {
	a, err := s.store.UpdateStatus(ctx, id, from, to)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			observability.Conflicts.WithLabelValues(string(src)).Inc()
		}
		return nil, err
	}
	observability.Transitions.WithLabelValues(string(src), string(from), string(to)).Inc()
	s.logger.Info("status changed", "assignment_id", id, "source", src, "from", from, "to", to)
	if ev, ok := dispatch.EventFor(from, to); ok {
		s.notify(ctx, ev, a)
	}
	return a, nil
}

// UpdateDetails is the admin edit for contact phone and notes.
func (s *Service) UpdateDetails(ctx context.Context, id string, userPhone, notes *string) (*models.Assignment, error) {
	return s.store.UpdateDetails(ctx, id, userPhone, notes)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("assignment deleted", "assignment_id", id)
	return nil
}

// notify never fails the caller; a booking stands even if nobody hears of it.
func (s *Service) notify(ctx context.Context, ev dispatch.Event, a *models.Assignment) {
	if s.notifier == nil {
		return
	}
	r := dispatch.Recipients{Driver: a.Driver.Phone, Customer: a.UserPhone, Operator: s.opts.OperatorEmail}
	for _, n := range dispatch.Plan(ev, a, r) {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification failed", "event", ev, "channel", n.Channel, "assignment_id", a.ID, "error", err)
		}
	}
}
