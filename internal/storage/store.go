package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
)

// AssignmentStore defines persistence operations for assignments.
// Every status change goes through UpdateStatus, which is a compare-and-swap
// on the expected prior status.
type AssignmentStore interface {
	Create(ctx context.Context, a *models.Assignment) error
	Get(ctx context.Context, id string) (*models.Assignment, error)
	GetByHelpID(ctx context.Context, helpID string) (*models.Assignment, error)
	// GetByHelpCode only considers pending and assigned rows.
	GetByHelpCode(ctx context.Context, code string) (*models.Assignment, error)
	GetActiveByDriver(ctx context.Context, driverID string) (*models.Assignment, error)
	// OldestByDriver returns the earliest created row of driverID in status.
	OldestByDriver(ctx context.Context, driverID string, status models.Status) (*models.Assignment, error)
	List(ctx context.Context, f ListFilter) ([]models.Assignment, error)
	UpdateStatus(ctx context.Context, id string, expected, next models.Status) (*models.Assignment, error)
	UpdateDetails(ctx context.Context, id string, userPhone, notes *string) (*models.Assignment, error)
	Delete(ctx context.Context, id string) error
	HelpIDTaken(ctx context.Context, helpID, helpCode string) (bool, error)
}

type ListFilter struct {
	Status   models.Status
	HelpID   string
	DriverID string
	Limit    int
}

type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]*models.Assignment
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]*models.Assignment), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; ok {
		return apperr.ErrDuplicateID
	}
	for _, other := range m.assignments {
		if other.HelpID == a.HelpID {
			return apperr.ErrDuplicateID
		}
		if !other.Status.Terminal() && other.HelpCode == a.HelpCode {
			return apperr.ErrDuplicateID
		}
	}
	now := m.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetByHelpID(_ context.Context, helpID string) (*models.Assignment, error) {
	return m.find(func(a *models.Assignment) bool { return a.HelpID == helpID })
}

func (m *MemoryStore) GetByHelpCode(_ context.Context, code string) (*models.Assignment, error) {
	return m.find(func(a *models.Assignment) bool { return a.HelpCode == code && !a.Status.Terminal() })
}

func (m *MemoryStore) GetActiveByDriver(_ context.Context, driverID string) (*models.Assignment, error) {
	return m.find(func(a *models.Assignment) bool { return a.DriverID == driverID && !a.Status.Terminal() })
}

func (m *MemoryStore) OldestByDriver(_ context.Context, driverID string, status models.Status) (*models.Assignment, error) {
	return m.find(func(a *models.Assignment) bool { return a.DriverID == driverID && a.Status == status })
}

// find returns the oldest matching row; ties on CreatedAt fall back to id.
func (m *MemoryStore) find(match func(*models.Assignment) bool) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Assignment
	for _, a := range m.assignments {
		if !match(a) {
			continue
		}
		if best == nil || a.CreatedAt.Before(best.CreatedAt) || (a.CreatedAt.Equal(best.CreatedAt) && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return nil, apperr.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]models.Assignment, error) {
	m.mu.RLock()
	out := make([]models.Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.HelpID != "" && a.HelpID != f.HelpID {
			continue
		}
		if f.DriverID != "" && a.DriverID != f.DriverID {
			continue
		}
		out = append(out, *a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next models.Status) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if a.Status != expected {
		return nil, apperr.ErrConflict
	}
	a.Status = next
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateDetails(_ context.Context, id string, userPhone, notes *string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if userPhone != nil {
		a.UserPhone = *userPhone
	}
	if notes != nil {
		a.Notes = *notes
	}
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *MemoryStore) HelpIDTaken(_ context.Context, helpID, helpCode string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.HelpID == helpID || (!a.Status.Terminal() && a.HelpCode == helpCode) {
			return true, nil
		}
	}
	return false, nil
}
