package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/food-dispatch/internal/auth"
	"github.com/example/food-dispatch/internal/config"
	"github.com/example/food-dispatch/internal/directory"
	"github.com/example/food-dispatch/internal/dispatch"
	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/ingest"
	"github.com/example/food-dispatch/internal/match"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/notify"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/payments"
	"github.com/example/food-dispatch/internal/store"
)

type Server struct {
	Store     store.Store
	Directory directory.Directory
	Geo       geo.Geo
	Matcher   *match.Matcher
	Responder *match.Responder
	Engine    *dispatch.Engine
	Gate      *auth.Gate
	Kafka     *ingest.KafkaProducer
	WSReg     *notify.WSRegistry
	Stripe    *payments.StripeClient

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the full dispatch stack from config with sensible
// fallbacks: in-memory store and geo index when Postgres/Redis are not
// configured, so the binary runs locally without setup.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var g geo.Geo
	if cfg.RedisAddr != "" {
		g = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		g = geo.NewIndex()
	}

	var st store.Store
	if cfg.PGDSN != "" {
		if ps, err := store.NewPostgresStore(cfg.PGDSN); err == nil {
			st = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := notify.NewWSRegistry(logger)
	sink := notify.NewPushSink(cfg.PushEndpoint, wsreg)
	dir := directory.New(st, g)

	var stripeClient *payments.StripeClient
	var pledger payments.Pledger
	if os.Getenv("STRIPE_API_KEY") != "" {
		stripeClient = payments.NewStripeClient()
		pledger = stripeClient
	}

	engine := &dispatch.Engine{
		Store:     st,
		Directory: dir,
		Sink:      sink,
		Pledges:   pledger,
		OfferTTL:  cfg.VolunteerOfferTTL,
		Logger:    logger,
	}
	matcher := &match.Matcher{Store: st, Directory: dir, Sink: sink, Pledges: pledger, Logger: logger}
	responder := &match.Responder{Store: st, Directory: dir, Engine: engine, Sink: sink, Logger: logger}

	s := &Server{
		Store:     st,
		Directory: dir,
		Geo:       g,
		Matcher:   matcher,
		Responder: responder,
		Engine:    engine,
		Gate:      auth.NewGate(cfg.JWTSecret),
		Kafka:     kp,
		WSReg:     wsreg,
		Stripe:    stripeClient,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/donations", s.requireRole(s.handleCreateDonation, models.RoleDonor, models.RoleAdmin)).Methods("POST")
	s.mux.HandleFunc("/api/v1/donations/{id}/decision", s.requireRole(s.handleDecision, models.RoleBeneficiary)).Methods("POST")
	s.mux.HandleFunc("/api/v1/donations/{id}/rematch", s.requireRole(s.handleRematch, models.RoleDonor, models.RoleAdmin)).Methods("POST")
	s.mux.HandleFunc("/api/v1/tasks/{id}/accept", s.requireRole(s.handleAcceptTask, models.RoleVolunteer)).Methods("POST")
	s.mux.HandleFunc("/api/v1/tasks/{id}/reject", s.requireRole(s.handleRejectTask, models.RoleVolunteer)).Methods("POST")
	s.mux.HandleFunc("/api/v1/tasks/{id}/complete", s.requireRole(s.handleCompleteTask, models.RoleVolunteer, models.RoleAdmin)).Methods("POST")
	s.mux.HandleFunc("/api/v1/volunteers/toggle", s.requireRole(s.handleTransportToggle, models.RoleVolunteer)).Methods("POST")
	s.mux.HandleFunc("/api/v1/actors", s.requireRole(s.handleUpsertActor, models.RoleAdmin)).Methods("POST")
	s.mux.HandleFunc("/api/v1/beneficiaries/nearest", s.handleNearestBeneficiaries).Methods("GET")
	s.mux.HandleFunc("/internal/actor/locations", s.handleActorLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{actor_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createDonationRequest struct {
	DonorID  string       `json:"donor_id,omitempty"`
	Location models.Coord `json:"location"`
	FoodItem string       `json:"food_item"`
	Quantity int          `json:"quantity"`
	FoodType string       `json:"food_type"`
	Pledge   *struct {
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		CustomerID string `json:"customer_id,omitempty"`
	} `json:"pledge,omitempty"`
}

func (s *Server) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	var req createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Location.Valid() {
		writeError(w, http.StatusBadRequest, "invalid location")
		return
	}
	if req.FoodItem == "" {
		writeError(w, http.StatusBadRequest, "food item required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	donorID := actorIDFromContext(r.Context())
	if roleFromContext(r.Context()) == models.RoleAdmin && req.DonorID != "" {
		donorID = req.DonorID
	}

	d := &models.Donation{
		ID:        uuid.NewString(),
		DonorID:   donorID,
		Location:  req.Location,
		FoodItem:  req.FoodItem,
		Quantity:  req.Quantity,
		FoodType:  req.FoodType,
		Status:    models.DonationPending,
		CreatedAt: time.Now(),
	}
	if req.Pledge != nil && s.Stripe != nil {
		if piID, err := s.Stripe.Hold(r.Context(), req.Pledge.Amount, req.Pledge.Currency, req.Pledge.CustomerID); err == nil {
			d.Pledge = &models.Pledge{PaymentIntentID: piID, Amount: req.Pledge.Amount, Currency: req.Pledge.Currency, State: models.PledgeHeld}
		} else {
			s.logger.Warn("pledge hold failed", "donation_id", d.ID, "error", err)
		}
	}

	err := s.Store.Transact(r.Context(), func(tx store.Tx) error {
		return tx.PutDonation(d)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not save donation")
		return
	}
	observability.DonationsCreatedTotal.Inc()

	if err := s.Matcher.OnDonationCreated(r.Context(), d.ID); err != nil {
		s.logger.Error("matching failed", "donation_id", d.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"donation_id": d.ID, "status": models.DonationPending})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	donationID := mux.Vars(r)["id"]
	var req struct {
		Decision match.Decision `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Decision.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown decision")
		return
	}
	err := s.Responder.OnBeneficiaryDecision(r.Context(), donationID, actorIDFromContext(r.Context()), req.Decision)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	donationID := mux.Vars(r)["id"]
	if err := s.Matcher.OnDonationCreated(r.Context(), donationID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAcceptTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := s.Engine.Accept(r.Context(), taskID, actorIDFromContext(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	// body is optional for rejections
	_ = json.NewDecoder(r.Body).Decode(&req)
	next, err := s.Engine.Reject(r.Context(), taskID, actorIDFromContext(r.Context()), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{"ok": true, "reassigned_to": nil}
	if next != "" {
		resp["reassigned_to"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if roleFromContext(r.Context()) == models.RoleVolunteer {
		t, err := s.Store.Task(r.Context(), taskID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if t.CurrentVolunteerID != actorIDFromContext(r.Context()) {
			writeError(w, http.StatusBadRequest, dispatch.ErrNotAssigned.Error())
			return
		}
	}
	if err := s.Engine.Complete(r.Context(), taskID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTransportToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actorID := actorIDFromContext(r.Context())
	var availability models.Availability
	err := s.Store.Transact(r.Context(), func(tx store.Tx) error {
		a, err := tx.Actor(actorID)
		if err != nil {
			return err
		}
		a.TransportActive = req.Active
		// an active delivery keeps the volunteer busy regardless of toggle
		if a.Availability != models.AvailabilityBusy {
			a.Availability = a.RestingAvailability()
		}
		availability = a.Availability
		return tx.PutActor(a)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "availability": availability})
}

func (s *Server) handleUpsertActor(w http.ResponseWriter, r *http.Request) {
	var a models.Actor
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if a.ID == "" || !a.Role.IsValid() {
		writeError(w, http.StatusBadRequest, "actor id and valid role required")
		return
	}
	if a.Availability == "" {
		a.Availability = a.RestingAvailability()
	}
	if !a.Availability.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid availability")
		return
	}
	a.Updated = time.Now()
	err := s.Store.Transact(r.Context(), func(tx store.Tx) error {
		return tx.PutActor(&a)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not save actor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleNearestBeneficiaries(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	from := models.Coord{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !from.Valid() {
		writeError(w, http.StatusBadRequest, "valid lat and lon query parameters required")
		return
	}
	beneficiaries, err := s.Directory.ListByRole(r.Context(), models.RoleBeneficiary)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "directory unavailable")
		return
	}
	type ranked struct {
		BeneficiaryID string  `json:"beneficiary_id"`
		Name          string  `json:"name,omitempty"`
		DistanceKm    float64 `json:"distance_km"`
	}
	out := make([]ranked, 0, len(beneficiaries))
	for _, b := range beneficiaries {
		if b.Location == nil || !b.Location.Valid() {
			continue
		}
		out = append(out, ranked{BeneficiaryID: b.ID, Name: b.Name, DistanceKm: geo.DistanceKm(from, *b.Location)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActorLocation(w http.ResponseWriter, r *http.Request) {
	var a models.Actor
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if a.ID == "" || a.Location == nil || !a.Location.Valid() {
		writeError(w, http.StatusBadRequest, "actor id and valid location required")
		return
	}
	if a.Role == "" {
		a.Role = models.RoleVolunteer
	}
	if a.Availability == "" {
		a.Availability = models.AvailabilityAvailable
	}
	// publish to kafka if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(a); err != nil {
			s.logger.Warn("location publish failed", "actor_id", a.ID, "error", err)
		}
	}
	// update live geo index
	if s.Geo != nil {
		s.Geo.Upsert(a)
	}
	// keep the durable record's location current, best-effort
	ping := a
	err := s.Store.Transact(r.Context(), func(tx store.Tx) error {
		existing, err := tx.Actor(ping.ID)
		if errors.Is(err, store.ErrNotFound) {
			ping.TransportActive = ping.Availability == models.AvailabilityAvailable
			ping.Updated = time.Now()
			return tx.PutActor(&ping)
		}
		if err != nil {
			return err
		}
		existing.Location = ping.Location
		existing.Updated = time.Now()
		return tx.PutActor(existing)
	})
	if err != nil {
		s.logger.Warn("actor location not persisted", "actor_id", a.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["actor_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.WSReg.Add(id, conn)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDomainError maps engine and matcher sentinels onto the 4xx responses
// the API promises; anything unexpected is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dispatch.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNotAssigned),
		errors.Is(err, dispatch.ErrTaskNotOpen),
		errors.Is(err, dispatch.ErrOfferExpired),
		errors.Is(err, match.ErrNotYourOffer),
		errors.Is(err, match.ErrLocationRequired),
		errors.Is(err, match.ErrUnknownDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
