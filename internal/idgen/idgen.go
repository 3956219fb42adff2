// Package idgen produces assignment primary keys and the short help ids
// customers read out over the phone.
package idgen

import (
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const reserveAttempts = 5

var (
	assignmentIDPattern = regexp.MustCompile(`^ASN[0-9]{10,}$`)
	helpIDPattern       = regexp.MustCompile(`^HLP[0-9A-Z]{4}-[0-9A-Z]{2}$`)
)

// Generator hands out ids from a monotonic millisecond sequence: every call
// gets max(now, previous+1), so two calls in one process never share a
// timestamp even inside the same millisecond.
type Generator struct {
	last atomic.Int64
	now  func() time.Time
	rand func() uint16
}

func New() *Generator {
	return &Generator{now: time.Now, rand: uuidRand}
}

// NewWithClock is New with an injected clock and random source, for tests.
func NewWithClock(now func() time.Time, rand func() uint16) *Generator {
	if rand == nil {
		rand = uuidRand
	}
	return &Generator{now: now, rand: rand}
}

func uuidRand() uint16 {
	u := uuid.New()
	return binary.BigEndian.Uint16(u[:2])
}

func (g *Generator) nextMillis() int64 {
	for {
		now := g.now().UnixMilli()
		last := g.last.Load()
		if now <= last {
			now = last + 1
		}
		if g.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// AssignmentID is "ASN" followed by the decimal millisecond value.
func (g *Generator) AssignmentID() string {
	return "ASN" + strconv.FormatInt(g.nextMillis(), 10)
}

// HelpID is "HLP" + last four base36 digits of the millisecond value + "-" +
// two random base36 characters.
func (g *Generator) HelpID() string {
	return g.helpIDAt(g.nextMillis())
}

func (g *Generator) helpIDAt(ms int64) string {
	ts := strings.ToUpper(strconv.FormatInt(ms, 36))
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	suffix := strings.ToUpper(strconv.FormatInt(int64(g.rand()%(36*36)), 36))
	return "HLP" + zeroPad(ts, 4) + "-" + zeroPad(suffix, 2)
}

func zeroPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// Pair is one freshly generated identity for an assignment.
type Pair struct {
	AssignmentID string
	HelpID       string
	HelpCode     string
}

// TakenFunc reports whether helpID or its keypad code is already in use by a
// live assignment.
type TakenFunc func(ctx context.Context, helpID, helpCode string) (bool, error)

// Reserve generates ids until one is free according to taken. Uniqueness is
// only as strong as the lookup; the store's unique constraints are the final
// word.
func (g *Generator) Reserve(ctx context.Context, taken TakenFunc) (Pair, error) {
	for i := 0; i < reserveAttempts; i++ {
		p := Pair{AssignmentID: g.AssignmentID(), HelpID: g.HelpID()}
		p.HelpCode = KeypadCode(p.HelpID)
		if taken == nil {
			return p, nil
		}
		busy, err := taken(ctx, p.HelpID, p.HelpCode)
		if err != nil {
			return Pair{}, fmt.Errorf("help id lookup: %w", err)
		}
		if !busy {
			return p, nil
		}
	}
	return Pair{}, fmt.Errorf("no free help id after %d attempts", reserveAttempts)
}

func ValidAssignmentID(id string) bool { return assignmentIDPattern.MatchString(id) }

func ValidHelpID(id string) bool { return helpIDPattern.MatchString(id) }
