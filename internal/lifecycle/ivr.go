package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/idgen"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

type IVRAction string

const (
	IVRConnect  IVRAction = "connect"
	IVRReprompt IVRAction = "reprompt"
	IVRHangup   IVRAction = "hangup"
)

// IVRDecision tells the voice webhook what to do with the caller.
type IVRDecision struct {
	Action       IVRAction
	AssignmentID string
	HelpID       string
	DriverPhone  string
	// NextAttempt is the attempt number to carry into the next prompt.
	NextAttempt int
}

func (s *Service) MaxIVRAttempts() int { return s.opts.MaxIVRAttempts }

// HandleDigits resolves what the caller typed, either keypad digits or a
// spoken/typed help id, to an active assignment. Only assignments already
// assigned to a driver with a phone number are connected. attempt counts
// from 1.
func (s *Service) HandleDigits(ctx context.Context, digits string, attempt int) IVRDecision {
	if attempt < 1 {
		attempt = 1
	}
	d := s.resolveDigits(ctx, digits)
	if d.Action != IVRConnect {
		if attempt >= s.opts.MaxIVRAttempts {
			d.Action = IVRHangup
		} else {
			d.Action = IVRReprompt
			d.NextAttempt = attempt + 1
		}
	}
	observability.IVROutcomes.WithLabelValues(string(d.Action)).Inc()
	s.logger.Info("ivr lookup", "action", d.Action, "attempt", attempt, "assignment_id", d.AssignmentID)
	return d
}

func (s *Service) resolveDigits(ctx context.Context, digits string) IVRDecision {
	var d IVRDecision
	code := strings.Trim(strings.TrimSpace(digits), "#*")
	if !idgen.IsDigits(code) {
		code = idgen.KeypadCode(code)
	}
	if code == "" {
		return d
	}
	a, err := s.store.GetByHelpCode(ctx, code)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("help code lookup failed", "error", err)
		}
		return d
	}
	d.AssignmentID, d.HelpID = a.ID, a.HelpID
	if a.Status != models.StatusAssigned {
		return d
	}
	phone := a.Driver.Phone
	if drv, err := s.drivers.Get(ctx, a.DriverID); err == nil && drv.Phone != "" {
		phone = drv.Phone
	}
	if phone == "" {
		return d
	}
	d.Action = IVRConnect
	d.DriverPhone = phone
	return d
}

// CallOutcome is a call-status or after-dial callback from the telephony
// provider.
type CallOutcome struct {
	CallSID      string
	Status       string // completed, busy, no-answer, failed, canceled
	AssignmentID string
	To           string
	From         string
}

// Failed reports whether the driver could not be reached.
func (o CallOutcome) Failed() bool {
	switch o.Status {
	case "busy", "no-answer", "failed":
		return true
	}
	return false
}

// HandleCallOutcome tells the operator about calls that did not reach the
// driver. It never changes an assignment's status.
func (s *Service) HandleCallOutcome(ctx context.Context, o CallOutcome) {
	s.logger.Info("call outcome", "call_sid", o.CallSID, "status", o.Status, "assignment_id", o.AssignmentID)
	if !o.Failed() {
		return
	}
	a := &models.Assignment{ID: o.AssignmentID, Driver: models.DriverSnapshot{Phone: o.To}}
	if o.AssignmentID != "" {
		got, err := s.store.Get(ctx, o.AssignmentID)
		if err == nil {
			a = got
		} else if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("assignment lookup failed", "assignment_id", o.AssignmentID, "error", err)
		}
	}
	s.notify(ctx, dispatch.EventCallFailed, a)
}
