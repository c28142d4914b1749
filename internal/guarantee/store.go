// internal/guarantee/store.go
package guarantee

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"guaranteedesk/pkg/domain"
)

// Repository persists guarantees. Get and List include archived guarantees;
// filtering them is the service's job. Update succeeds only while the stored
// revision equals expectedRevision and returns ErrConcurrencyConflict
// otherwise. Every write journals exactly one event.
type Repository interface {
	Create(ctx context.Context, g *Guarantee, evt Event) error
	Get(ctx context.Context, id uuid.UUID) (*Guarantee, error)
	List(ctx context.Context) ([]*Guarantee, error)
	Update(ctx context.Context, g *Guarantee, expectedRevision int, evt Event) error
	NextSequence(ctx context.Context, period string) (int, error)
}

// Journal reads the recorded events of one guarantee, oldest first.
type Journal interface {
	History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error)
}

// JournalEntry is one stored event.
type JournalEntry struct {
	Revision  int             `json:"revision"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// MaxSequence is the last sequence a six-digit suffix can hold.
const MaxSequence = 999_999

// FormatNumber renders a guarantee number for the month of t.
func FormatNumber(t time.Time, seq int) (string, error) {
	if seq < 1 || seq > MaxSequence {
		return "", fmt.Errorf("sequence %d for %s: %w", seq, numberPeriod(t), ErrNumbersExhausted)
	}
	return fmt.Sprintf("BG-%s-%06d", numberPeriod(t), seq), nil
}

func numberPeriod(t time.Time) string {
	return t.UTC().Format("200601")
}

// MemoryRepository keeps guarantees in process, preserving insertion order.
// Values are deep-copied on the way in and out.
type MemoryRepository struct {
	mu        sync.RWMutex
	order     []uuid.UUID
	items     map[uuid.UUID]*Guarantee
	events    map[uuid.UUID][]JournalEntry
	sequences map[string]int
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:     make(map[uuid.UUID]*Guarantee),
		events:    make(map[uuid.UUID][]JournalEntry),
		sequences: make(map[string]int),
	}
}

func (m *MemoryRepository) Create(_ context.Context, g *Guarantee, evt Event) error {
	payload, err := marshalPayload(evt)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[g.ID]; exists {
		return ErrConcurrencyConflict
	}
	for _, existing := range m.items {
		if existing.GuaranteeNumber == g.GuaranteeNumber {
			return fmt.Errorf("guarantee number %s already used: %w", g.GuaranteeNumber, domain.ErrConflict)
		}
	}
	m.items[g.ID] = g.Clone()
	m.order = append(m.order, g.ID)
	m.record(g, evt, payload)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Guarantee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return g.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*Guarantee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Guarantee, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].Clone())
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, g *Guarantee, expectedRevision int, evt Event) error {
	payload, err := marshalPayload(evt)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[g.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Revision != expectedRevision {
		return ErrConcurrencyConflict
	}
	m.items[g.ID] = g.Clone()
	m.record(g, evt, payload)
	return nil
}

func (m *MemoryRepository) NextSequence(_ context.Context, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[period]++
	return m.sequences[period], nil
}

// History returns the events recorded for id.
func (m *MemoryRepository) History(_ context.Context, id uuid.UUID) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.items[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(m.events[id]), nil
}

func (m *MemoryRepository) record(g *Guarantee, evt Event, payload json.RawMessage) {
	m.events[g.ID] = append(m.events[g.ID], JournalEntry{
		Revision:  g.Revision,
		Type:      string(evt.Type),
		Payload:   payload,
		Timestamp: evt.Timestamp,
	})
}

func marshalPayload(evt Event) (json.RawMessage, error) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Type, err)
	}
	return data, nil
}
