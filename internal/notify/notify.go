package notify

import "time"

// Event kinds pushed to actors.
const (
	KindBeneficiaryOffer  = "beneficiary_offer"
	KindDeliveryOffer     = "delivery_offer"
	KindDonationAccepted  = "donation_accepted"
	KindDeliveryAssigned  = "delivery_assigned"
	KindDeliveryCompleted = "delivery_completed"
	KindAdminAlert        = "admin_alert"
)

// AdminRecipient is the pseudo-recipient for administrator alerts.
const AdminRecipient = "admins"

type Event struct {
	Kind       string     `json:"kind"`
	TaskID     string     `json:"task_id,omitempty"`
	DonationID string     `json:"donation_id,omitempty"`
	Message    string     `json:"message"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Sink delivers an event to a recipient, best-effort. Callers log failures
// and move on: a failed push must never roll back or retry the transaction
// that produced it.
type Sink interface {
	Notify(recipientID string, ev Event) error
}

// NopSink discards everything. Useful default when no channel is configured.
type NopSink struct{}

func (NopSink) Notify(string, Event) error { return nil }
