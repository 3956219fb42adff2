package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

type ReplyOutcome string

const (
	ReplyApplied        ReplyOutcome = "applied"
	ReplyNoMatch        ReplyOutcome = "no_match"
	ReplyUnknownDriver  ReplyOutcome = "unknown_driver"
	ReplyUnknownKeyword ReplyOutcome = "unknown_keyword"
	ReplyConflict       ReplyOutcome = "conflict"
	ReplyFailed         ReplyOutcome = "failed"
)

// ReplyResult describes what a driver message did. It is informational: the
// messaging webhook acknowledges every outcome the same way.
type ReplyResult struct {
	Keyword      string
	Outcome      ReplyOutcome
	DriverID     string
	AssignmentID string
	Status       models.Status
}

type replyRule struct{ from, to models.Status }

// COMPLETE closes the job; re-opening for another driver stays an admin action.
var replyRules = map[string]replyRule{
	"YES":      {models.StatusPending, models.StatusAssigned},
	"NO":       {models.StatusPending, models.StatusRejected},
	"COMPLETE": {models.StatusAssigned, models.StatusCompleted},
}

// ParseKeyword returns the upper-cased first word of a message body with
// trailing punctuation removed.
func ParseKeyword(body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(strings.ToUpper(fields[0]), ".!?,;:")
}

// HandleDriverReply applies a YES, NO or COMPLETE reply to the oldest
// matching assignment of the sending driver. It never returns an error;
// failures are logged and reported in the result.
func (s *Service) HandleDriverReply(ctx context.Context, fromPhone, body string) ReplyResult {
	res := s.handleReply(ctx, fromPhone, body)
	observability.DriverReplies.WithLabelValues(res.Keyword, string(res.Outcome)).Inc()
	s.logger.Info("driver reply",
		"keyword", res.Keyword,
		"outcome", res.Outcome,
		"driver_id", res.DriverID,
		"assignment_id", res.AssignmentID,
	)
	return res
}

func (s *Service) handleReply(ctx context.Context, fromPhone, body string) ReplyResult {
	res := ReplyResult{Keyword: ParseKeyword(body)}
	rule, ok := replyRules[res.Keyword]
	if !ok {
		res.Keyword = "OTHER"
		res.Outcome = ReplyUnknownKeyword
		return res
	}

	driver, err := s.drivers.FindByPhone(ctx, fromPhone)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			res.Outcome = ReplyUnknownDriver
		} else {
			s.logger.Error("driver lookup failed", "error", err)
			res.Outcome = ReplyFailed
		}
		return res
	}
	res.DriverID = driver.ID

	a, err := s.store.OldestByDriver(ctx, driver.ID, rule.from)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			res.Outcome = ReplyNoMatch
		} else {
			s.logger.Error("assignment lookup failed", "driver_id", driver.ID, "error", err)
			res.Outcome = ReplyFailed
		}
		return res
	}
	res.AssignmentID = a.ID

	updated, err := s.apply(ctx, SourceMessage, a.ID, rule.from, rule.to)
	switch {
	case err == nil:
		res.Outcome = ReplyApplied
		res.Status = updated.Status
	case errors.Is(err, apperr.ErrConflict):
		res.Outcome = ReplyConflict
	case errors.Is(err, apperr.ErrNotFound):
		res.Outcome = ReplyNoMatch
	default:
		s.logger.Error("status update failed", "assignment_id", a.ID, "error", err)
		res.Outcome = ReplyFailed
	}
	return res
}
