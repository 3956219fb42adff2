// Package dispatch decides which outbound messages a status change produces
// and hands them to a transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

type Channel string

const (
	ChannelCall      Channel = "call"
	ChannelTemplate  Channel = "template"
	ChannelMessage   Channel = "message"
	ChannelEmail     Channel = "email"
	ChannelDashboard Channel = "dashboard"
)

type Event string

const (
	EventCreated    Event = "created"
	EventAssigned   Event = "assigned"
	EventRejected   Event = "rejected"
	EventCancelled  Event = "cancelled"
	EventCompleted  Event = "completed"
	EventReopened   Event = "reopened"
	EventCallFailed Event = "call_failed"
)

// Notification is one outbound message. ID doubles as the idempotency key
// for gateways and the consumer.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Event        Event             `json:"event"`
	To           string            `json:"to"`
	Template     string            `json:"template,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	AssignmentID string            `json:"assignmentId"`
	HelpID       string            `json:"helpId"`
	Status       models.Status     `json:"status,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Recipients resolves who hears about an assignment. Driver and Customer
// are phone numbers, Operator an email address. Empty values skip the
// matching notification.
type Recipients struct {
	Driver   string
	Customer string
	Operator string
}

// EventFor maps a status change to its notification event.
func EventFor(from, to models.Status) (Event, bool) {
	switch {
	case from == models.StatusPending && to == models.StatusAssigned:
		return EventAssigned, true
	case from == models.StatusPending && to == models.StatusRejected:
		return EventRejected, true
	case from == models.StatusPending && to == models.StatusCancelled:
		return EventCancelled, true
	case from == models.StatusAssigned && to == models.StatusCompleted:
		return EventCompleted, true
	case from == models.StatusAssigned && to == models.StatusPending:
		return EventReopened, true
	}
	return "", false
}

// Plan lists the notifications for ev on a. Every event also yields one
// dashboard notification for connected admins.
func Plan(ev Event, a *models.Assignment, r Recipients) []Notification {
	var out []Notification
	add := func(ch Channel, to string, fill func(*Notification)) {
		if to == "" {
			return
		}
		n := Notification{
			ID:           uuid.NewString(),
			Channel:      ch,
			Event:        ev,
			To:           to,
			AssignmentID: a.ID,
			HelpID:       a.HelpID,
			Status:       a.Status,
		}
		if fill != nil {
			fill(&n)
		}
		out = append(out, n)
	}

	switch ev {
	case EventCreated:
		add(ChannelTemplate, r.Driver, func(n *Notification) {
			n.Template = "job_offer"
			n.Params = map[string]string{
				"helpId":    a.HelpID,
				"address":   a.UserLocation.Address,
				"lat":       fmt.Sprintf("%.6f", a.UserLocation.Lat),
				"lon":       fmt.Sprintf("%.6f", a.UserLocation.Lon),
				"userPhone": a.UserPhone,
			}
		})
		add(ChannelEmail, r.Operator, func(n *Notification) {
			n.Subject = "New assignment " + a.HelpID
			n.Body = fmt.Sprintf("Assignment %s (help id %s) created for driver %s at %s.",
				a.ID, a.HelpID, a.Driver.Name, a.UserLocation.Address)
		})
	case EventAssigned:
		add(ChannelMessage, r.Driver, func(n *Notification) {
			n.Body = fmt.Sprintf("Auftrag %s bestätigt. Einsatzort: %s", a.HelpID, a.UserLocation.Address)
		})
		add(ChannelCall, r.Customer, func(n *Notification) {
			n.Body = "Hilfe ist unterwegs. Ihr Fahrer hat den Auftrag angenommen."
			n.Params = map[string]string{"helpId": a.HelpID}
		})
	case EventRejected:
		add(ChannelEmail, r.Operator, func(n *Notification) {
			n.Subject = "Assignment " + a.HelpID + " rejected"
			n.Body = fmt.Sprintf("Driver %s declined assignment %s.", a.Driver.Name, a.ID)
		})
	case EventCancelled:
		add(ChannelMessage, r.Driver, func(n *Notification) {
			n.Body = fmt.Sprintf("Auftrag %s wurde storniert.", a.HelpID)
		})
	case EventCompleted:
		add(ChannelMessage, r.Driver, func(n *Notification) {
			n.Body = fmt.Sprintf("Auftrag %s abgeschlossen. Danke!", a.HelpID)
		})
	case EventReopened:
		add(ChannelMessage, r.Driver, func(n *Notification) {
			n.Body = fmt.Sprintf("Auftrag %s wurde wieder geöffnet.", a.HelpID)
		})
	case EventCallFailed:
		add(ChannelEmail, r.Operator, func(n *Notification) {
			n.Subject = "Call to driver failed for " + a.HelpID
			n.Body = fmt.Sprintf("Bridging the call for assignment %s to %s did not connect.", a.ID, a.Driver.Phone)
		})
	}
	add(ChannelDashboard, "admins", nil)
	return out
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Router picks a notifier per channel.
type Router struct {
	Routes   map[Channel]Notifier
	Fallback Notifier
}

func (r *Router) Notify(ctx context.Context, n Notification) error {
	if nt, ok := r.Routes[n.Channel]; ok {
		return nt.Notify(ctx, n)
	}
	if r.Fallback == nil {
		return nil
	}
	return r.Fallback.Notify(ctx, n)
}

type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"channel", n.Channel,
		"event", n.Event,
		"to", n.To,
		"assignment_id", n.AssignmentID,
		"help_id", n.HelpID,
	)
	Record("log", n, nil)
	return nil
}

// Record counts a delivery attempt for transport.
func Record(transport string, n Notification, err error) {
	if err != nil {
		observability.NotificationsFailed.WithLabelValues(string(n.Channel), transport).Inc()
		return
	}
	observability.NotificationsSent.WithLabelValues(string(n.Channel), transport).Inc()
}
