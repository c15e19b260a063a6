package payments

import (
	"context"
	"log/slog"

	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/store"
)

// Pledger is the payment collaborator interface the dispatch flow depends
// on. StripeClient implements it; tests use fakes.
type Pledger interface {
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Settle captures or cancels a donation's held pledge and records the new
// state. Best-effort by contract: payment calls happen outside any store
// transaction and failures are logged, never retried or propagated.
func Settle(ctx context.Context, s store.Store, p Pledger, donationID string, to models.PledgeState, logger *slog.Logger) {
	if p == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	d, err := s.Donation(ctx, donationID)
	if err != nil || d.Pledge == nil || d.Pledge.State != models.PledgeHeld {
		return
	}
	if to == models.PledgeCaptured {
		err = p.Capture(ctx, d.Pledge.PaymentIntentID)
	} else {
		err = p.Cancel(ctx, d.Pledge.PaymentIntentID)
	}
	if err != nil {
		logger.Warn("pledge settlement failed", "donation_id", donationID, "state", string(to), "error", err)
		return
	}
	err = s.Transact(ctx, func(tx store.Tx) error {
		d, err := tx.Donation(donationID)
		if err != nil {
			return err
		}
		if d.Pledge == nil {
			return nil
		}
		d.Pledge.State = to
		return tx.PutDonation(d)
	})
	if err != nil {
		logger.Warn("pledge state not recorded", "donation_id", donationID, "error", err)
	}
}
