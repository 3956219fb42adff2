package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingHoursSplitShift(t *testing.T) {
	var w WorkingHours
	require.NoError(t, json.Unmarshal([]byte(`{"mon":["08:00","12:00","18:00","03:00"]}`), &w))

	mon := w["mon"]
	assert.Equal(t, "08:00", mon.Start)
	assert.Equal(t, "12:00", mon.End)
	assert.Equal(t, []TimeWindow{{Start: "18:00", End: "03:00"}}, mon.Extra)

	// 2026-10-12 is a Monday.
	at := func(hhmm string) time.Time {
		ts, err := time.Parse("2006-01-02 15:04", "2026-10-12 "+hhmm)
		require.NoError(t, err)
		return ts
	}
	assert.True(t, w.OpenAt(at("09:30")))
	assert.False(t, w.OpenAt(at("14:00")))
	assert.True(t, w.OpenAt(at("22:15")))
	assert.True(t, w.OpenAt(at("01:00")))
	assert.False(t, w.OpenAt(at("05:00")))

	b, err := json.Marshal(mon)
	require.NoError(t, err)
	assert.JSONEq(t, `["08:00","12:00","18:00","03:00"]`, string(b))
}

func TestWorkingHoursRejectsOddValues(t *testing.T) {
	var w WorkingHours
	assert.Error(t, json.Unmarshal([]byte(`{"mon":["08:00","12:00","18:00"]}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"mon":["8 Uhr","12:00"]}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"mon":"always"}`), &w))
}

func TestWorkingHoursAroundTheClock(t *testing.T) {
	var w WorkingHours
	require.NoError(t, json.Unmarshal([]byte(`"24/7"`), &w))
	assert.True(t, w.OpenAt(time.Now()))

	require.NoError(t, json.Unmarshal([]byte(`{"sun":"24/7"}`), &w))
	assert.True(t, w["sun"].AllDay)
	assert.False(t, w.OpenAt(time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)))
}
