package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/food-dispatch/internal/directory"
	"github.com/example/food-dispatch/internal/dispatch"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/notify"
	"github.com/example/food-dispatch/internal/store"
)

var (
	ErrNotYourOffer     = errors.New("not your offer")
	ErrLocationRequired = errors.New("location required")
	ErrUnknownDecision  = errors.New("unknown decision")
)

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
	DecisionExpire  Decision = "expire"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionAccept, DecisionDecline, DecisionExpire:
		return true
	default:
		return false
	}
}

// Responder processes a beneficiary's answer to an open donation offer. An
// accept hands the donation off to the dispatch engine; decline and expiry
// reset it to pending without re-matching.
type Responder struct {
	Store     store.Store
	Directory directory.Directory
	Engine    *dispatch.Engine
	Sink      notify.Sink
	Logger    *slog.Logger
	Now       func() time.Time
}

func (r *Responder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Responder) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// OnBeneficiaryDecision applies a decision to a donation offer. actorID is
// the calling beneficiary, or empty for a system-driven expiry. Decline and
// expire are idempotent: once the donation is back to pending, repeats are
// no-ops.
func (r *Responder) OnBeneficiaryDecision(ctx context.Context, donationID, actorID string, decision Decision) error {
	switch decision {
	case DecisionDecline, DecisionExpire:
		return r.release(ctx, donationID, actorID, decision)
	case DecisionAccept:
		return r.accept(ctx, donationID, actorID)
	default:
		return ErrUnknownDecision
	}
}

func (r *Responder) release(ctx context.Context, donationID, actorID string, decision Decision) error {
	return r.Store.Transact(ctx, func(tx store.Tx) error {
		d, err := tx.Donation(donationID)
		if err != nil {
			return err
		}
		if d.Status != models.DonationOffered {
			return nil
		}
		if decision == DecisionDecline && actorID != "" && d.OfferedTo != actorID {
			return ErrNotYourOffer
		}
		d.Status = models.DonationPending
		d.OfferedTo = ""
		d.OfferExpiry = nil
		return tx.PutDonation(d)
	})
}

// accept marks the donation accepted and creates the delivery task. The
// offer window is not re-verified here: an accept racing the expiry by
// microseconds is allowed to win.
func (r *Responder) accept(ctx context.Context, donationID, actorID string) error {
	beneficiary, err := r.Directory.Get(ctx, actorID)
	if err != nil {
		return err
	}
	if beneficiary.Location == nil || !beneficiary.Location.Valid() {
		return ErrLocationRequired
	}

	now := r.now()
	var accepted *models.Donation
	err = r.Store.Transact(ctx, func(tx store.Tx) error {
		d, err := tx.Donation(donationID)
		if err != nil {
			return err
		}
		if d.Status != models.DonationOffered || d.OfferedTo != actorID {
			return ErrNotYourOffer
		}
		d.Status = models.DonationAcceptedByBeneficiary
		d.BeneficiaryID = actorID
		d.OfferedTo = ""
		d.OfferExpiry = nil
		d.AcceptedAt = &now
		accepted = d
		return tx.PutDonation(d)
	})
	if err != nil {
		return err
	}

	pickup := models.Stop{Loc: accepted.Location}
	if donor, err := r.Directory.Get(ctx, accepted.DonorID); err == nil {
		pickup.Address = donor.Address
		if donor.Location != nil && donor.Location.Valid() {
			pickup.Loc = *donor.Location
		}
	}
	dropoff := models.Stop{Loc: *beneficiary.Location, Address: beneficiary.Address}
	summary := fmt.Sprintf("%dx %s (%s)", accepted.Quantity, accepted.FoodItem, accepted.FoodType)

	if _, err := r.Engine.CreateAndOffer(ctx, donationID, pickup, dropoff, summary); err != nil {
		return err
	}
	r.notifyActor(accepted.DonorID, notify.Event{
		Kind:       notify.KindDonationAccepted,
		DonationID: donationID,
		Message:    "your donation was accepted by " + beneficiary.Name,
	})
	return nil
}

func (r *Responder) notifyActor(actorID string, ev notify.Event) {
	if r.Sink == nil || actorID == "" {
		return
	}
	if err := r.Sink.Notify(actorID, ev); err != nil {
		r.log().Debug("notify failed", "recipient", actorID, "kind", ev.Kind, "error", err)
	}
}
