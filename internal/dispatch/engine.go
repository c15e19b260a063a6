package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
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

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrNotAssigned  = errors.New("not assigned to you")
	ErrTaskNotOpen  = errors.New("task is not open")
	ErrOfferExpired = errors.New("offer expired")
)

// DefaultOfferTTL is the volunteer response window.
const DefaultOfferTTL = 60 * time.Second

// Engine is the dispatch state machine. It builds the one-shot candidate
// queue for a delivery task, offers it to one volunteer at a time, and
// advances deterministically on rejection or timeout until a volunteer
// accepts or the queue is exhausted. Every state transition runs as a single
// store transaction; the Accept transaction is the sole mechanism enforcing
// first-acceptance-wins under concurrent attempts.
type Engine struct {
	Store     store.Store
	Directory directory.Directory
	Sink      notify.Sink
	Pledges   payments.Pledger
	OfferTTL  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) offerTTL() time.Duration {
	if e.OfferTTL > 0 {
		return e.OfferTTL
	}
	return DefaultOfferTTL
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// CreateAndOffer builds the candidate queue for an accepted donation and
// offers the delivery to the nearest available volunteer. An empty volunteer
// pool yields an unassigned task and an administrator alert, not an error.
func (e *Engine) CreateAndOffer(ctx context.Context, donationID string, pickup, dropoff models.Stop, summary string) (*models.DeliveryTask, error) {
	queue, err := e.buildQueue(ctx, pickup.Loc)
	if err != nil {
		return nil, fmt.Errorf("build candidate queue: %w", err)
	}
	now := e.now()
	task := &models.DeliveryTask{
		ID:                    donationID,
		DonationID:            donationID,
		Pickup:                pickup,
		Dropoff:               dropoff,
		Summary:               summary,
		CandidateQueue:        queue,
		RejectedVolunteers:    make(map[string]bool),
		CurrentCandidateIndex: -1,
		Status:                models.TaskUnassigned,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if len(queue) > 0 {
		exp := now.Add(e.offerTTL())
		task.Status = models.TaskOffered
		task.CurrentCandidateIndex = 0
		task.CurrentVolunteerID = queue[0].VolunteerID
		task.OfferExpiry = &exp
	}
	err = e.Store.Transact(ctx, func(tx store.Tx) error {
		d, err := tx.Donation(donationID)
		if err != nil {
			return err
		}
		task.DonorID = d.DonorID
		task.BeneficiaryID = d.BeneficiaryID
		return tx.PutTask(task)
	})
	if err != nil {
		return nil, err
	}

	if task.Status == models.TaskUnassigned {
		e.exhausted(ctx, donationID, task.ID, "no volunteers available")
		return task, nil
	}
	observability.VolunteerOffersTotal.Inc()
	e.offerNotify(task.CurrentVolunteerID, task)
	return task, nil
}

// Accept records a volunteer winning the task. All verification and all
// writes (task, donation, volunteer availability) happen inside one
// transaction; a losing concurrent caller observes a stale precondition and
// aborts with no state change.
func (e *Engine) Accept(ctx context.Context, taskID, volunteerID string) error {
	now := e.now()
	var donationID, beneficiaryID string
	err := e.Store.Transact(ctx, func(tx store.Tx) error {
		t, err := tx.Task(taskID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if t.CurrentVolunteerID != volunteerID {
			return ErrNotAssigned
		}
		if t.Status != models.TaskOffered {
			return ErrTaskNotOpen
		}
		if t.OfferExpiry != nil && now.After(*t.OfferExpiry) {
			return ErrOfferExpired
		}
		t.Status = models.TaskAccepted
		t.OfferExpiry = nil
		t.UpdatedAt = now
		t.AssignmentLog = append(t.AssignmentLog, models.LogEntry{Time: now, Action: "accepted", Actor: volunteerID})
		if err := tx.PutTask(t); err != nil {
			return err
		}
		d, err := tx.Donation(t.DonationID)
		if err != nil {
			return err
		}
		d.Status = models.DonationAssigned
		d.AssignedVolunteerID = volunteerID
		d.DeliveryStatus = "pending_pickup"
		if err := tx.PutDonation(d); err != nil {
			return err
		}
		a, err := tx.Actor(volunteerID)
		if err != nil {
			return err
		}
		a.Availability = models.AvailabilityBusy
		if err := tx.PutActor(a); err != nil {
			return err
		}
		donationID = t.DonationID
		beneficiaryID = t.BeneficiaryID
		return nil
	})
	if err != nil {
		return err
	}
	observability.TaskAcceptsTotal.Inc()

	// leftover broadcast-era offers for the same donation; cleanup is
	// best-effort and does not affect the committed acceptance
	if err := e.Store.DeleteSiblingOffers(ctx, donationID, taskID); err != nil {
		e.log().Warn("sibling offer cleanup failed", "donation_id", donationID, "error", err)
	}
	e.notifyActor(beneficiaryID, notify.Event{
		Kind:       notify.KindDeliveryAssigned,
		TaskID:     taskID,
		DonationID: donationID,
		Message:    "a volunteer accepted your delivery",
	})
	return nil
}

// Reject records the current volunteer declining the offer and moves the
// offer to the next candidate, or dead-ends the task when none remain. The
// rejecting volunteer's availability is reset per their service toggle in
// the same transaction.
func (e *Engine) Reject(ctx context.Context, taskID, volunteerID, reason string) (string, error) {
	now := e.now()
	var next *models.Candidate
	var task *models.DeliveryTask
	err := e.Store.Transact(ctx, func(tx store.Tx) error {
		t, err := tx.Task(taskID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if t.CurrentVolunteerID != volunteerID {
			return ErrNotAssigned
		}
		if t.RejectedVolunteers == nil {
			t.RejectedVolunteers = make(map[string]bool)
		}
		t.RejectedVolunteers[volunteerID] = true
		next = advanceQueue(t, now, e.offerTTL(), "rejected", volunteerID, reason)
		t.UpdatedAt = now
		if err := tx.PutTask(t); err != nil {
			return err
		}
		a, err := tx.Actor(volunteerID)
		if err != nil {
			return err
		}
		a.Availability = a.RestingAvailability()
		if err := tx.PutActor(a); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return "", err
	}
	observability.TaskRejectsTotal.Inc()

	if next == nil {
		e.exhausted(ctx, task.DonationID, taskID, reasonOr(reason, "all volunteers rejected"))
		return "", nil
	}
	observability.VolunteerOffersTotal.Inc()
	e.offerNotify(next.VolunteerID, task)
	return next.VolunteerID, nil
}

// SweepExpired reclaims up to batch tasks whose current offer has lapsed,
// advancing each to its next candidate. Each task is re-checked inside its
// own transaction, so a racing accept or reject simply wins or loses
// cleanly: whichever transaction commits first decides, the loser is a
// no-op.
func (e *Engine) SweepExpired(ctx context.Context, batch int) (int, error) {
	now := e.now()
	stale, err := e.Store.ListExpiredOffers(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("list expired offers: %w", err)
	}
	advanced := 0
	for i := range stale {
		id := stale[i].ID
		var next *models.Candidate
		var task *models.DeliveryTask
		skipped := false
		err := e.Store.Transact(ctx, func(tx store.Tx) error {
			t, err := tx.Task(id)
			if err != nil {
				return err
			}
			if t.Status != models.TaskOffered || t.OfferExpiry == nil || t.OfferExpiry.After(now) {
				// someone accepted, rejected or already advanced it
				skipped = true
				return nil
			}
			// a timed-out volunteer is skipped by the index advance but is
			// not marked rejected
			next = advanceQueue(t, now, e.offerTTL(), "reassign", "system", "timeout")
			t.UpdatedAt = now
			task = t
			return tx.PutTask(t)
		})
		if err != nil {
			e.log().Error("sweep advance failed", "task_id", id, "error", err)
			continue
		}
		if skipped {
			continue
		}
		advanced++
		observability.OfferTimeoutsTotal.Inc()
		if next == nil {
			e.exhausted(ctx, task.DonationID, id, "timeout")
			continue
		}
		observability.VolunteerOffersTotal.Inc()
		e.offerNotify(next.VolunteerID, task)
	}
	return advanced, nil
}

// Complete finalizes a delivery: donation delivered, task completed,
// volunteer availability restored per their toggle. Verifying the task is
// still accepted makes re-invocation a clean no-op instead of a
// double-applied transition.
func (e *Engine) Complete(ctx context.Context, taskID string) error {
	now := e.now()
	var donationID, donorID, beneficiaryID string
	err := e.Store.Transact(ctx, func(tx store.Tx) error {
		t, err := tx.Task(taskID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if t.Status != models.TaskAccepted {
			return ErrTaskNotOpen
		}
		volunteerID := t.CurrentVolunteerID
		t.Status = models.TaskCompleted
		t.CurrentVolunteerID = ""
		t.UpdatedAt = now
		t.AssignmentLog = append(t.AssignmentLog, models.LogEntry{Time: now, Action: "completed", Actor: volunteerID})
		if err := tx.PutTask(t); err != nil {
			return err
		}
		d, err := tx.Donation(t.DonationID)
		if err != nil {
			return err
		}
		d.Status = models.DonationDelivered
		d.DeliveryStatus = "delivered"
		if err := tx.PutDonation(d); err != nil {
			return err
		}
		a, err := tx.Actor(volunteerID)
		if err != nil {
			return err
		}
		a.Availability = a.RestingAvailability()
		if err := tx.PutActor(a); err != nil {
			return err
		}
		donationID = t.DonationID
		donorID = t.DonorID
		beneficiaryID = t.BeneficiaryID
		return nil
	})
	if err != nil {
		return err
	}
	observability.DeliveriesCompletedTotal.Inc()
	e.capturePledge(ctx, donationID)
	ev := notify.Event{
		Kind:       notify.KindDeliveryCompleted,
		TaskID:     taskID,
		DonationID: donationID,
		Message:    "delivery completed",
	}
	e.notifyActor(donorID, ev)
	e.notifyActor(beneficiaryID, ev)
	return nil
}

// buildQueue ranks all available volunteers with a usable location by
// geodesic distance from the pickup point, ascending. The sort is stable so
// duplicate distances keep scan order.
func (e *Engine) buildQueue(ctx context.Context, pickup models.Coord) ([]models.Candidate, error) {
	vols, err := e.Directory.ListByRole(ctx, models.RoleVolunteer)
	if err != nil {
		return nil, err
	}
	cands := make([]models.Candidate, 0, len(vols))
	for _, v := range vols {
		if v.Availability != models.AvailabilityAvailable || v.Location == nil || !v.Location.Valid() {
			continue
		}
		cands = append(cands, models.Candidate{
			VolunteerID: v.ID,
			DistanceKm:  geo.DistanceKm(pickup, *v.Location),
		})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].DistanceKm < cands[j].DistanceKm })
	return cands, nil
}

// advanceQueue moves the offer forward: the next candidate is the first
// index past the current one that has not explicitly rejected the task. It
// appends the transition to the assignment log and either re-offers with a
// fresh expiry or marks the task unassigned. The scan is monotonically
// forward, so a volunteer is never re-offered the same task.
func advanceQueue(t *models.DeliveryTask, now time.Time, ttl time.Duration, action, actor, reason string) *models.Candidate {
	nextIdx := -1
	for i := t.CurrentCandidateIndex + 1; i < len(t.CandidateQueue); i++ {
		if !t.RejectedVolunteers[t.CandidateQueue[i].VolunteerID] {
			nextIdx = i
			break
		}
	}
	t.AssignmentLog = append(t.AssignmentLog, models.LogEntry{Time: now, Action: action, Actor: actor, Reason: reason})
	if nextIdx < 0 {
		t.Status = models.TaskUnassigned
		t.CurrentVolunteerID = ""
		t.OfferExpiry = nil
		return nil
	}
	t.Status = models.TaskOffered
	t.CurrentCandidateIndex = nextIdx
	t.CurrentVolunteerID = t.CandidateQueue[nextIdx].VolunteerID
	exp := now.Add(ttl)
	t.OfferExpiry = &exp
	return &t.CandidateQueue[nextIdx]
}

func (e *Engine) offerNotify(volunteerID string, t *models.DeliveryTask) {
	e.notifyActor(volunteerID, notify.Event{
		Kind:       notify.KindDeliveryOffer,
		TaskID:     t.ID,
		DonationID: t.DonationID,
		Message:    "delivery offer: " + t.Summary,
		ExpiresAt:  t.OfferExpiry,
	})
}

func (e *Engine) notifyActor(actorID string, ev notify.Event) {
	if e.Sink == nil || actorID == "" {
		return
	}
	if err := e.Sink.Notify(actorID, ev); err != nil {
		observability.NotifyFailuresTotal.Inc()
		e.log().Debug("notify failed", "recipient", actorID, "kind", ev.Kind, "error", err)
	}
}

// exhausted records the terminal unassigned state: persisted administrator
// alert, push to the admin channel, and release of any held pledge.
func (e *Engine) exhausted(ctx context.Context, donationID, taskID, reason string) {
	observability.TasksUnassignedTotal.Inc()
	n := &models.Notification{
		ID:         uuid.NewString(),
		Recipient:  notify.AdminRecipient,
		Kind:       notify.KindAdminAlert,
		Message:    "delivery unassigned: " + reason,
		DonationID: donationID,
		TaskID:     taskID,
		CreatedAt:  e.now(),
	}
	if err := e.Store.SaveNotification(ctx, n); err != nil {
		e.log().Warn("admin notification not persisted", "task_id", taskID, "error", err)
	}
	e.notifyActor(notify.AdminRecipient, notify.Event{
		Kind:       notify.KindAdminAlert,
		TaskID:     taskID,
		DonationID: donationID,
		Message:    n.Message,
	})
	e.cancelPledge(ctx, donationID)
	e.log().Warn("candidate queue exhausted", "task_id", taskID, "reason", reason)
}

func (e *Engine) capturePledge(ctx context.Context, donationID string) {
	payments.Settle(ctx, e.Store, e.Pledges, donationID, models.PledgeCaptured, e.Logger)
}

func (e *Engine) cancelPledge(ctx context.Context, donationID string) {
	payments.Settle(ctx, e.Store, e.Pledges, donationID, models.PledgeCanceled, e.Logger)
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
