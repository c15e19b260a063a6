package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// MemoryStore keeps everything in maps and serializes transactions with a
// single mutex, which gives it the same atomicity contract as the Postgres
// implementation: a transaction sees a consistent snapshot, and either all
// of its writes land or none do.
type MemoryStore struct {
	mu            sync.RWMutex
	donations     map[string]*models.Donation
	tasks         map[string]*models.DeliveryTask
	actors        map[string]*models.Actor
	notifications map[string]*models.Notification
	siblings      map[string][]string // donation id -> legacy broadcast offer ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		donations:     make(map[string]*models.Donation),
		tasks:         make(map[string]*models.DeliveryTask),
		actors:        make(map[string]*models.Actor),
		notifications: make(map[string]*models.Notification),
		siblings:      make(map[string][]string),
	}
}

type memTx struct {
	s *MemoryStore

	donations map[string]*models.Donation
	tasks     map[string]*models.DeliveryTask
	actors    map[string]*models.Actor
}

func (m *MemoryStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		s:         m,
		donations: make(map[string]*models.Donation),
		tasks:     make(map[string]*models.DeliveryTask),
		actors:    make(map[string]*models.Actor),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// commit staged writes
	for id, d := range tx.donations {
		m.donations[id] = d
	}
	for id, t := range tx.tasks {
		m.tasks[id] = t
	}
	for id, a := range tx.actors {
		m.actors[id] = a
	}
	return nil
}

func (t *memTx) Donation(id string) (*models.Donation, error) {
	if d, ok := t.donations[id]; ok {
		return d.Clone(), nil
	}
	if d, ok := t.s.donations[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) PutDonation(d *models.Donation) error {
	t.donations[d.ID] = d.Clone()
	return nil
}

func (t *memTx) Task(id string) (*models.DeliveryTask, error) {
	if dt, ok := t.tasks[id]; ok {
		return dt.Clone(), nil
	}
	if dt, ok := t.s.tasks[id]; ok {
		return dt.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) PutTask(dt *models.DeliveryTask) error {
	t.tasks[dt.ID] = dt.Clone()
	return nil
}

func (t *memTx) Actor(id string) (*models.Actor, error) {
	if a, ok := t.actors[id]; ok {
		return a.Clone(), nil
	}
	if a, ok := t.s.actors[id]; ok {
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) PutActor(a *models.Actor) error {
	t.actors[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) Donation(ctx context.Context, id string) (*models.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Task(ctx context.Context, id string) (*models.DeliveryTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) Actor(ctx context.Context, id string) (*models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ListActorsByRole(ctx context.Context, role models.Role) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Actor, 0)
	for _, a := range m.actors {
		if a.Role == role {
			out = append(out, *a.Clone())
		}
	}
	// map iteration order is random; keep scan order reproducible
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.DeliveryTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeliveryTask, 0)
	for _, t := range m.tasks {
		if t.Status != models.TaskOffered || t.OfferExpiry == nil {
			continue
		}
		if t.OfferExpiry.After(now) {
			continue
		}
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferExpiry.Before(*out[j].OfferExpiry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.notifications[n.ID] = &c
	return nil
}

// Notifications returns the persisted alert log, oldest first. Diagnostic
// read used by tests and the admin surface.
func (m *MemoryStore) Notifications() []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) DeleteSiblingOffers(ctx context.Context, donationID, keepTaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.siblings[donationID][:0]
	for _, id := range m.siblings[donationID] {
		if id == keepTaskID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(m.siblings, donationID)
	} else {
		m.siblings[donationID] = kept
	}
	return nil
}
