package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

func TestTransactCommitsOnNilError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Transact(ctx, func(tx Tx) error {
		return tx.PutDonation(&models.Donation{ID: "d1", Status: models.DonationPending})
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	d, err := s.Donation(ctx, "d1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if d.Status != models.DonationPending {
		t.Fatalf("unexpected status %q", d.Status)
	}
}

func TestTransactAbortsAllWritesOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transact(ctx, func(tx Tx) error {
		if err := tx.PutDonation(&models.Donation{ID: "d1"}); err != nil {
			return err
		}
		if err := tx.PutActor(&models.Actor{ID: "v1", Role: models.RoleVolunteer}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}

	if _, err := s.Donation(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected donation rollback, got %v", err)
	}
	if _, err := s.Actor(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected actor rollback, got %v", err)
	}
}

func TestTransactReadsOwnWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Transact(ctx, func(tx Tx) error {
		if err := tx.PutTask(&models.DeliveryTask{ID: "t1", Status: models.TaskOffered}); err != nil {
			return err
		}
		got, err := tx.Task("t1")
		if err != nil {
			return err
		}
		if got.Status != models.TaskOffered {
			t.Fatalf("staged write not visible: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
}

func TestReadsReturnClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	exp := time.Now().Add(time.Minute)
	_ = s.Transact(ctx, func(tx Tx) error {
		return tx.PutTask(&models.DeliveryTask{
			ID:                 "t1",
			Status:             models.TaskOffered,
			OfferExpiry:        &exp,
			RejectedVolunteers: map[string]bool{},
		})
	})

	got, err := s.Task(ctx, "t1")
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	got.Status = models.TaskCompleted
	got.RejectedVolunteers["v1"] = true
	*got.OfferExpiry = got.OfferExpiry.Add(time.Hour)

	again, _ := s.Task(ctx, "t1")
	if again.Status != models.TaskOffered {
		t.Fatal("caller mutation leaked into store")
	}
	if again.RejectedVolunteers["v1"] {
		t.Fatal("rejected-set mutation leaked into store")
	}
	if !again.OfferExpiry.Equal(exp) {
		t.Fatal("expiry mutation leaked into store")
	}
}

func TestListActorsByRoleSortedAndFiltered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Transact(ctx, func(tx Tx) error {
		for _, a := range []*models.Actor{
			{ID: "v2", Role: models.RoleVolunteer},
			{ID: "b1", Role: models.RoleBeneficiary},
			{ID: "v1", Role: models.RoleVolunteer},
		} {
			if err := tx.PutActor(a); err != nil {
				return err
			}
		}
		return nil
	})

	vols, err := s.ListActorsByRole(ctx, models.RoleVolunteer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(vols) != 2 || vols[0].ID != "v1" || vols[1].ID != "v2" {
		t.Fatalf("unexpected listing: %+v", vols)
	}
}

func TestListExpiredOffers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	put := func(id string, status models.TaskStatus, exp *time.Time) {
		_ = s.Transact(ctx, func(tx Tx) error {
			return tx.PutTask(&models.DeliveryTask{ID: id, Status: status, OfferExpiry: exp})
		})
	}
	past1 := now.Add(-2 * time.Minute)
	past2 := now.Add(-1 * time.Minute)
	future := now.Add(time.Minute)
	put("stale-old", models.TaskOffered, &past1)
	put("stale-new", models.TaskOffered, &past2)
	put("fresh", models.TaskOffered, &future)
	put("accepted", models.TaskAccepted, &past1)
	put("no-expiry", models.TaskOffered, nil)

	got, err := s.ListExpiredOffers(ctx, now, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stale offers, got %d", len(got))
	}
	if got[0].ID != "stale-old" || got[1].ID != "stale-new" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	limited, _ := s.ListExpiredOffers(ctx, now, 1)
	if len(limited) != 1 || limited[0].ID != "stale-old" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestSaveNotification(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SaveNotification(ctx, &models.Notification{ID: "n1", Recipient: "admins", Message: "first", CreatedAt: time.Now()})
	_ = s.SaveNotification(ctx, &models.Notification{ID: "n2", Recipient: "admins", Message: "second", CreatedAt: time.Now().Add(time.Second)})

	got := s.Notifications()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].ID != "n1" || got[1].ID != "n2" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}
