package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/models"
)

func TestParseKeyword(t *testing.T) {
	cases := map[string]string{
		"YES":            "YES",
		"  yes ":         "YES",
		"Yes!":           "YES",
		"no, sorry":      "NO",
		"complete.":      "COMPLETE",
		"":               "",
		"   ":            "",
		"maybe tomorrow": "MAYBE",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseKeyword(in), in)
	}
}

func TestDriverYesThenYesAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)

	res := f.svc.HandleDriverReply(ctx, driverPhone, "YES")
	assert.Equal(t, ReplyApplied, res.Outcome)
	assert.Equal(t, a.ID, res.AssignmentID)
	assert.Equal(t, models.StatusAssigned, res.Status)

	got, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)

	res = f.svc.HandleDriverReply(ctx, driverPhone, "YES")
	assert.Equal(t, ReplyNoMatch, res.Outcome)
	got, _ = f.store.Get(ctx, a.ID)
	assert.Equal(t, models.StatusAssigned, got.Status)

	assert.Equal(t, []dispatch.Event{dispatch.EventAssigned}, f.notes.events(dispatch.ChannelCall))
}

func TestDriverYesPicksOldestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	second := f.create(t)

	res := f.svc.HandleDriverReply(ctx, "whatsapp:"+driverPhone, "yes")
	assert.Equal(t, first.ID, res.AssignmentID)

	got, _ := f.store.Get(ctx, second.ID)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestDriverNoRejects(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)
	res := f.svc.HandleDriverReply(context.Background(), driverPhone, "no")
	assert.Equal(t, ReplyApplied, res.Outcome)
	assert.Equal(t, models.StatusRejected, res.Status)

	got, _ := f.store.Get(context.Background(), a.ID)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, []dispatch.Event{dispatch.EventCreated, dispatch.EventRejected}, f.notes.events(dispatch.ChannelEmail))
}

func TestDriverCompleteClosesAssignedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)

	res := f.svc.HandleDriverReply(ctx, driverPhone, "COMPLETE")
	assert.Equal(t, ReplyNoMatch, res.Outcome, "nothing assigned yet")

	f.svc.HandleDriverReply(ctx, driverPhone, "YES")
	res = f.svc.HandleDriverReply(ctx, driverPhone, "complete")
	assert.Equal(t, ReplyApplied, res.Outcome)
	assert.Equal(t, models.StatusCompleted, res.Status)

	got, _ := f.store.Get(ctx, a.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)

	d, _ := f.drivers.Get(ctx, "d1")
	assert.True(t, d.Available, "busy state is never written to the roster")
	assert.True(t, d.ManuallyOnline)
}

func TestDriverReplyIgnoredCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)

	res := f.svc.HandleDriverReply(ctx, driverPhone, "on my way")
	assert.Equal(t, ReplyUnknownKeyword, res.Outcome)

	res = f.svc.HandleDriverReply(ctx, "+4900000000", "YES")
	assert.Equal(t, ReplyUnknownDriver, res.Outcome)

	got, _ := f.store.Get(ctx, a.ID)
	assert.Equal(t, models.StatusPending, got.Status)
}
