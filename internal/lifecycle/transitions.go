package lifecycle

import "github.com/example/roadside-dispatch/internal/models"

// Source names who asked for a status change.
type Source string

const (
	SourceAdmin   Source = "admin"
	SourceMessage Source = "message"
)

type edge struct{ from, to models.Status }

var allowed = map[edge][]Source{
	{models.StatusPending, models.StatusAssigned}:   {SourceAdmin, SourceMessage},
	{models.StatusPending, models.StatusCancelled}:  {SourceAdmin},
	{models.StatusPending, models.StatusRejected}:   {SourceMessage},
	{models.StatusAssigned, models.StatusCompleted}: {SourceAdmin, SourceMessage},
	{models.StatusAssigned, models.StatusPending}:   {SourceAdmin},
}

// Allowed reports whether src may move an assignment from one status to
// another. Terminal statuses have no outgoing edges.
func Allowed(src Source, from, to models.Status) bool {
	for _, s := range allowed[edge{from, to}] {
		if s == src {
			return true
		}
	}
	return false
}
