package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/food-dispatch/internal/directory"
	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/notify"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/payments"
	"github.com/example/food-dispatch/internal/store"
)

// BeneficiaryOfferTTL is the fixed response window for a beneficiary offer.
const BeneficiaryOfferTTL = 5 * time.Minute

// Matcher finds the single nearest eligible beneficiary for a freshly
// created donation and opens a time-boxed offer. It runs once at creation
// time; a decline or timeout does not re-trigger it, re-matching requires an
// explicit rematch call on a pending donation.
type Matcher struct {
	Store     store.Store
	Directory directory.Directory
	Sink      notify.Sink
	Pledges   payments.Pledger
	Logger    *slog.Logger
	Now       func() time.Time
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Matcher) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// OnDonationCreated matches a pending donation to its nearest beneficiary
// and opens the offer. A donation that cannot be matched is expired with the
// error recorded on it; that is a terminal state, not a retryable failure.
func (m *Matcher) OnDonationCreated(ctx context.Context, donationID string) error {
	beneficiaries, err := m.Directory.ListByRole(ctx, models.RoleBeneficiary)
	if err != nil {
		return err
	}
	now := m.now()
	var offered *models.Donation
	var expiredReason string
	err = m.Store.Transact(ctx, func(tx store.Tx) error {
		d, err := tx.Donation(donationID)
		if err != nil {
			return err
		}
		if d.Status != models.DonationPending {
			// already matched, or terminal; nothing to do
			return nil
		}
		if !d.Location.Valid() {
			d.Status = models.DonationExpired
			d.LastError = "invalid donation location"
			expiredReason = d.LastError
			return tx.PutDonation(d)
		}
		best := nearest(beneficiaries, d.Location)
		if best == nil {
			d.Status = models.DonationExpired
			d.LastError = "No eligible beneficiary found"
			expiredReason = d.LastError
			return tx.PutDonation(d)
		}
		exp := now.Add(BeneficiaryOfferTTL)
		d.Status = models.DonationOffered
		d.OfferedTo = best.ID
		d.OfferExpiry = &exp
		offered = d
		return tx.PutDonation(d)
	})
	if err != nil {
		return err
	}

	if expiredReason != "" {
		observability.DonationsExpiredTotal.Inc()
		m.alertAdmins(ctx, donationID, expiredReason)
		payments.Settle(ctx, m.Store, m.Pledges, donationID, models.PledgeCanceled, m.Logger)
		m.log().Warn("donation expired at matching", "donation_id", donationID, "reason", expiredReason)
		return nil
	}
	if offered != nil {
		observability.BeneficiaryOffersTotal.Inc()
		m.notifyActor(offered.OfferedTo, notify.Event{
			Kind:       notify.KindBeneficiaryOffer,
			DonationID: donationID,
			Message:    "donation offer: " + offered.FoodItem,
			ExpiresAt:  offered.OfferExpiry,
		})
	}
	return nil
}

// nearest scans for the minimum-distance beneficiary with a usable location.
// Ties keep the first encountered in scan order.
func nearest(actors []models.Actor, from models.Coord) *models.Actor {
	var best *models.Actor
	bestDist := 0.0
	for i := range actors {
		a := &actors[i]
		if a.Location == nil || !a.Location.Valid() {
			continue
		}
		d := geo.DistanceKm(from, *a.Location)
		if best == nil || d < bestDist {
			best = a
			bestDist = d
		}
	}
	return best
}

func (m *Matcher) alertAdmins(ctx context.Context, donationID, message string) {
	n := &models.Notification{
		ID:         uuid.NewString(),
		Recipient:  notify.AdminRecipient,
		Kind:       notify.KindAdminAlert,
		Message:    message,
		DonationID: donationID,
		CreatedAt:  m.now(),
	}
	if err := m.Store.SaveNotification(ctx, n); err != nil {
		m.log().Warn("admin notification not persisted", "donation_id", donationID, "error", err)
	}
	m.notifyActor(notify.AdminRecipient, notify.Event{
		Kind:       notify.KindAdminAlert,
		DonationID: donationID,
		Message:    message,
	})
}

func (m *Matcher) notifyActor(actorID string, ev notify.Event) {
	if m.Sink == nil || actorID == "" {
		return
	}
	if err := m.Sink.Notify(actorID, ev); err != nil {
		observability.NotifyFailuresTotal.Inc()
		m.log().Debug("notify failed", "recipient", actorID, "kind", ev.Kind, "error", err)
	}
}
