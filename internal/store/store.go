package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// ErrNotFound is returned by point reads for documents that do not exist.
var ErrNotFound = errors.New("not found")

// Tx is the view of the store inside a transaction. Every read is consistent
// with the transaction snapshot and every write is applied atomically on
// commit, or not at all.
type Tx interface {
	Donation(id string) (*models.Donation, error)
	PutDonation(d *models.Donation) error
	Task(id string) (*models.DeliveryTask, error)
	PutTask(t *models.DeliveryTask) error
	Actor(id string) (*models.Actor, error)
	PutActor(a *models.Actor) error
}

// Store is the durable transactional document store all state transitions
// run against. Transact executes fn atomically: if fn returns an error the
// transaction aborts with no partial writes and that error is returned
// unchanged, so callers can signal preconditions with sentinel errors.
type Store interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error

	Donation(ctx context.Context, id string) (*models.Donation, error)
	Task(ctx context.Context, id string) (*models.DeliveryTask, error)
	Actor(ctx context.Context, id string) (*models.Actor, error)
	ListActorsByRole(ctx context.Context, role models.Role) ([]models.Actor, error)

	// ListExpiredOffers returns up to limit tasks still marked offered whose
	// offer expiry is at or before now.
	ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.DeliveryTask, error)

	SaveNotification(ctx context.Context, n *models.Notification) error

	// DeleteSiblingOffers removes leftover broadcast-era offer records for a
	// donation, keeping the given task. Best-effort cleanup after an accept.
	DeleteSiblingOffers(ctx context.Context, donationID, keepTaskID string) error
}
