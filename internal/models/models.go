package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is a usable lat/lon pair.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Stop is one end of a delivery: a coordinate plus a human-readable address.
type Stop struct {
	Loc     Coord  `json:"loc"`
	Address string `json:"address,omitempty"`
}

type Role string

const (
	RoleDonor       Role = "donor"
	RoleBeneficiary Role = "beneficiary"
	RoleVolunteer   Role = "volunteer"
	RoleAdmin       Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleDonor, RoleBeneficiary, RoleVolunteer, RoleAdmin:
		return true
	default:
		return false
	}
}

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityInactive  Availability = "inactive"
)

func (a Availability) IsValid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityInactive:
		return true
	default:
		return false
	}
}

// Actor is a donor, beneficiary, volunteer or admin record.
// TransportActive is the volunteer's user-facing service toggle; Availability
// is the transient state the engine flips during an active delivery. When a
// delivery ends the volunteer goes back to whatever the toggle prescribes,
// never unconditionally to available.
type Actor struct {
	ID              string       `json:"id"`
	Role            Role         `json:"role"`
	Name            string       `json:"name"`
	Location        *Coord       `json:"location,omitempty"`
	Address         string       `json:"address,omitempty"`
	Availability    Availability `json:"availability"`
	TransportActive bool         `json:"transport_active"`
	DeviceToken     string       `json:"device_token,omitempty"`
	Updated         time.Time    `json:"updated"`
}

// RestingAvailability is the availability an actor returns to when it is not
// the current volunteer of any task.
func (a *Actor) RestingAvailability() Availability {
	if a.TransportActive {
		return AvailabilityAvailable
	}
	return AvailabilityInactive
}

func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	c := *a
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	return &c
}

type DonationStatus string

const (
	DonationPending               DonationStatus = "pending"
	DonationOffered               DonationStatus = "offered"
	DonationAcceptedByBeneficiary DonationStatus = "accepted_by_beneficiary"
	DonationAssigned              DonationStatus = "assigned"
	DonationDelivered             DonationStatus = "delivered"
	DonationExpired               DonationStatus = "expired"
)

func (s DonationStatus) IsValid() bool {
	switch s {
	case DonationPending, DonationOffered, DonationAcceptedByBeneficiary,
		DonationAssigned, DonationDelivered, DonationExpired:
		return true
	default:
		return false
	}
}

type PledgeState string

const (
	PledgeHeld     PledgeState = "held"
	PledgeCaptured PledgeState = "captured"
	PledgeCanceled PledgeState = "canceled"
)

// Pledge is an optional delivery-cost contribution held against the donor's
// card until the donation reaches a terminal state.
type Pledge struct {
	PaymentIntentID string      `json:"payment_intent_id"`
	Amount          int64       `json:"amount"`
	Currency        string      `json:"currency"`
	State           PledgeState `json:"state"`
}

// Donation is one surplus-food offering. OfferedTo and OfferExpiry are both
// set or both empty: exactly one beneficiary holds an open offer at a time.
type Donation struct {
	ID                  string         `json:"id"`
	DonorID             string         `json:"donor_id"`
	Location            Coord          `json:"location"`
	FoodItem            string         `json:"food_item"`
	Quantity            int            `json:"quantity"`
	FoodType            string         `json:"food_type"`
	Status              DonationStatus `json:"status"`
	OfferedTo           string         `json:"offered_to,omitempty"`
	OfferExpiry         *time.Time     `json:"offer_expiry,omitempty"`
	BeneficiaryID       string         `json:"beneficiary_id,omitempty"`
	AssignedVolunteerID string         `json:"assigned_volunteer_id,omitempty"`
	DeliveryStatus      string         `json:"delivery_status,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	Pledge              *Pledge        `json:"pledge,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	AcceptedAt          *time.Time     `json:"accepted_at,omitempty"`
}

func (d *Donation) Clone() *Donation {
	if d == nil {
		return nil
	}
	c := *d
	if d.OfferExpiry != nil {
		t := *d.OfferExpiry
		c.OfferExpiry = &t
	}
	if d.AcceptedAt != nil {
		t := *d.AcceptedAt
		c.AcceptedAt = &t
	}
	if d.Pledge != nil {
		p := *d.Pledge
		c.Pledge = &p
	}
	return &c
}

type TaskStatus string

const (
	TaskOffered    TaskStatus = "offered"
	TaskAccepted   TaskStatus = "accepted"
	TaskUnassigned TaskStatus = "unassigned"
	TaskCompleted  TaskStatus = "completed"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskOffered, TaskAccepted, TaskUnassigned, TaskCompleted:
		return true
	default:
		return false
	}
}

// Candidate is one entry of a task's distance-ranked volunteer queue.
type Candidate struct {
	VolunteerID string  `json:"volunteer_id"`
	DistanceKm  float64 `json:"distance_km"`
}

// LogEntry is one append-only record of a task transition.
type LogEntry struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
}

// DeliveryTask is the dispatch record moving an accepted donation from donor
// to beneficiary. The candidate queue is built once at creation and never
// reordered; only status, the current offer fields, the rejected set and the
// log mutate afterwards, and always together inside one store transaction.
type DeliveryTask struct {
	ID                    string          `json:"id"` // keyed by donation id
	DonationID            string          `json:"donation_id"`
	DonorID               string          `json:"donor_id"`
	BeneficiaryID         string          `json:"beneficiary_id"`
	Pickup                Stop            `json:"pickup"`
	Dropoff               Stop            `json:"dropoff"`
	Summary               string          `json:"summary"`
	CandidateQueue        []Candidate     `json:"candidate_queue"`
	RejectedVolunteers    map[string]bool `json:"rejected_volunteers,omitempty"`
	CurrentCandidateIndex int             `json:"current_candidate_index"` // -1 if none offered yet
	CurrentVolunteerID    string          `json:"current_volunteer_id,omitempty"`
	Status                TaskStatus      `json:"status"`
	OfferExpiry           *time.Time      `json:"offer_expiry,omitempty"`
	AssignmentLog         []LogEntry      `json:"assignment_log,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (t *DeliveryTask) Clone() *DeliveryTask {
	if t == nil {
		return nil
	}
	c := *t
	c.CandidateQueue = append([]Candidate(nil), t.CandidateQueue...)
	c.AssignmentLog = append([]LogEntry(nil), t.AssignmentLog...)
	if t.RejectedVolunteers != nil {
		c.RejectedVolunteers = make(map[string]bool, len(t.RejectedVolunteers))
		for id, v := range t.RejectedVolunteers {
			c.RejectedVolunteers[id] = v
		}
	}
	if t.OfferExpiry != nil {
		e := *t.OfferExpiry
		c.OfferExpiry = &e
	}
	return &c
}

// Notification is a persisted alert, primarily the administrator log written
// when a donation or task dead-ends.
type Notification struct {
	ID         string    `json:"id"`
	Recipient  string    `json:"recipient"` // actor id or "admins"
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	DonationID string    `json:"donation_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
