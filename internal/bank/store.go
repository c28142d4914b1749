// internal/bank/store.go
package bank

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"guaranteedesk/pkg/domain"
)

// ErrDuplicateCode is returned when a bank code is already registered.
var ErrDuplicateCode = errors.New("bank code already registered")

// Store persists bank profiles. Update succeeds only when the stored version
// equals expectedVersion; otherwise it returns domain.ErrConflict.
type Store interface {
	Create(ctx context.Context, p *Profile, evt Event) error
	Get(ctx context.Context, id uuid.UUID) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Update(ctx context.Context, p *Profile, expectedVersion int, evt Event) error
}

// MemoryStore keeps profiles in process. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*Profile
	journal  map[uuid.UUID][]Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[uuid.UUID]*Profile),
		journal:  make(map[uuid.UUID][]Event),
	}
}

func (m *MemoryStore) Create(_ context.Context, p *Profile, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[p.ID]; exists {
		return domain.ErrConflict
	}
	for _, existing := range m.profiles {
		if existing.Code == p.Code {
			return ErrDuplicateCode
		}
	}
	m.profiles[p.ID] = p.Clone()
	m.journal[p.ID] = append(m.journal[p.ID], evt)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, p *Profile, expectedVersion int, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.profiles[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConflict
	}
	m.profiles[p.ID] = p.Clone()
	m.journal[p.ID] = append(m.journal[p.ID], evt)
	return nil
}

// Journal returns the events recorded for a profile, oldest first.
func (m *MemoryStore) Journal(id uuid.UUID) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.journal[id]...)
}
