package directory

import (
	"context"

	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/store"
)

// Directory is read access to actor records: identity, role, location,
// availability and reachability. Writes go through the store so that
// availability changes stay inside the owning transaction.
type Directory interface {
	Get(ctx context.Context, id string) (*models.Actor, error)
	ListByRole(ctx context.Context, role models.Role) ([]models.Actor, error)
}

// StoreDirectory reads actors from the durable store. When a live geo index
// is attached, volunteer positions are overlaid with the fresher ping
// locations so ranking uses where a volunteer actually is, not where they
// were when their record was last written.
type StoreDirectory struct {
	Store store.Store
	Geo   geo.Geo
}

func New(s store.Store, g geo.Geo) *StoreDirectory {
	return &StoreDirectory{Store: s, Geo: g}
}

func (d *StoreDirectory) Get(ctx context.Context, id string) (*models.Actor, error) {
	a, err := d.Store.Actor(ctx, id)
	if err != nil {
		return nil, err
	}
	d.overlay(a)
	return a, nil
}

func (d *StoreDirectory) ListByRole(ctx context.Context, role models.Role) ([]models.Actor, error) {
	actors, err := d.Store.ListActorsByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for i := range actors {
		d.overlay(&actors[i])
	}
	return actors, nil
}

func (d *StoreDirectory) overlay(a *models.Actor) {
	if d.Geo == nil || a.Role != models.RoleVolunteer {
		return
	}
	if loc, ok := d.Geo.Lookup(a.ID); ok {
		a.Location = &loc
	}
}
