package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DonationsCreatedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "donations_created_total", Help: "Total donations created"})
	DonationsExpiredTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "donations_expired_total", Help: "Donations expired with no eligible beneficiary"})
	BeneficiaryOffersTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "beneficiary_offers_total", Help: "Beneficiary offers opened"})
	VolunteerOffersTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "volunteer_offers_total", Help: "Volunteer delivery offers made"})
	TaskAcceptsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "task_accepts_total", Help: "Delivery tasks accepted by volunteers"})
	TaskRejectsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "task_rejects_total", Help: "Delivery task offers rejected"})
	OfferTimeoutsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "offer_timeouts_total", Help: "Volunteer offers reclaimed by the expiry sweep"})
	TasksUnassignedTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "tasks_unassigned_total", Help: "Tasks that exhausted their candidate queue"})
	DeliveriesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "deliveries_completed_total", Help: "Deliveries confirmed complete"})
	SweepRunsTotal           = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "sweep_runs_total", Help: "Expiry sweep ticks executed"})
	NotifyFailuresTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "notify_failures_total", Help: "Best-effort notification failures"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "food_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "food_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
