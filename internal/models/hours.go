package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WorkingHours maps a weekday key (mon..sun) to an opening window.
// A nil or empty schedule means the driver works around the clock, as does
// the literal JSON string "24/7" for the whole schedule or a single day.
type WorkingHours map[string]DayHours

// DayHours is either around the clock or a flat list of "15:04" values read
// as [start, end] pairs. The first pair is Start/End; split shifts put the
// rest in Extra. A window whose end is before its start runs past midnight.
type DayHours struct {
	AllDay bool
	Start  string
	End    string
	Extra  []TimeWindow
}

type TimeWindow struct {
	Start string
	End   string
}

func (d DayHours) windows() []TimeWindow {
	return append([]TimeWindow{{Start: d.Start, End: d.End}}, d.Extra...)
}

func (w TimeWindow) contains(hhmm string) bool {
	if w.Start <= w.End {
		return hhmm >= w.Start && hhmm <= w.End
	}
	return hhmm >= w.Start || hhmm <= w.End
}

var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// OpenAt reports whether the schedule covers t (interpreted in t's location).
func (w WorkingHours) OpenAt(t time.Time) bool {
	if len(w) == 0 {
		return true
	}
	day, ok := w[weekdayKeys[t.Weekday()]]
	if !ok {
		return false
	}
	if day.AllDay {
		return true
	}
	now := t.Format("15:04")
	for _, win := range day.windows() {
		if win.contains(now) {
			return true
		}
	}
	return false
}

func (d DayHours) MarshalJSON() ([]byte, error) {
	if d.AllDay {
		return json.Marshal("24/7")
	}
	flat := make([]string, 0, 2+2*len(d.Extra))
	for _, w := range d.windows() {
		flat = append(flat, w.Start, w.End)
	}
	return json.Marshal(flat)
}

func (d *DayHours) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "24/7" {
			return fmt.Errorf("invalid day hours %q", s)
		}
		*d = DayHours{AllDay: true}
		return nil
	}
	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	if len(vals) < 2 || len(vals)%2 != 0 {
		return fmt.Errorf("day hours need [start, end] pairs, got %d values", len(vals))
	}
	for _, v := range vals {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid time %q: %w", v, err)
		}
	}
	out := DayHours{Start: vals[0], End: vals[1]}
	for i := 2; i < len(vals); i += 2 {
		out.Extra = append(out.Extra, TimeWindow{Start: vals[i], End: vals[i+1]})
	}
	*d = out
	return nil
}

func (w *WorkingHours) UnmarshalJSON(b []byte) error {
	if strings.TrimSpace(string(b)) == `"24/7"` {
		*w = nil
		return nil
	}
	m := map[string]DayHours{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*w = m
	return nil
}
