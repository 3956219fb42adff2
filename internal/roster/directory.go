// Package roster is the driver directory: who can be dispatched, where they
// are and how to reach them.
package roster

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
)

type Directory interface {
	List(ctx context.Context, includeArchived bool) ([]models.Driver, error)
	Get(ctx context.Context, id string) (*models.Driver, error)
	// FindByPhone matches on NormalizePhone of both sides.
	FindByPhone(ctx context.Context, phone string) (*models.Driver, error)
	Upsert(ctx context.Context, d models.Driver) (models.Driver, error)
	SetOnline(ctx context.Context, id string, online bool) error
}

// NormalizePhone strips messaging channel prefixes and formatting so that
// "whatsapp:+49 170 1234-567" and "+491701234567" compare equal. A leading
// 00 is rewritten to +.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.Index(p, ":"); i >= 0 {
		p = p[i+1:]
	}
	var b strings.Builder
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}

type MemoryDirectory struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	now     func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{drivers: make(map[string]models.Driver), now: time.Now}
}

func (g *MemoryDirectory) Upsert(_ context.Context, d models.Driver) (models.Driver, error) {
	if strings.TrimSpace(d.ID) == "" {
		return models.Driver{}, apperr.Invalid("id", "required")
	}
	if d.ServiceAreas == nil {
		d.ServiceAreas = []string{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = g.now()
	g.drivers[d.ID] = d
	return d, nil
}

func (g *MemoryDirectory) List(_ context.Context, includeArchived bool) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Driver, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Archived && !includeArchived {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *MemoryDirectory) Get(_ context.Context, id string) (*models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &d, nil
}

func (g *MemoryDirectory) FindByPhone(_ context.Context, phone string) (*models.Driver, error) {
	key := NormalizePhone(phone)
	if key == "" {
		return nil, apperr.ErrNotFound
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	var found *models.Driver
	for _, d := range g.drivers {
		if d.Archived || NormalizePhone(d.Phone) != key {
			continue
		}
		// several rows on one phone: lowest id wins so the answer is stable
		if found == nil || d.ID < found.ID {
			d := d
			found = &d
		}
	}
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	return found, nil
}

func (g *MemoryDirectory) SetOnline(_ context.Context, id string, online bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[id]
	if !ok {
		return apperr.ErrNotFound
	}
	d.ManuallyOnline = online
	d.Updated = g.now()
	g.drivers[id] = d
	return nil
}
