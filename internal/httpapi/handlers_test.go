package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/food-dispatch/internal/config"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		JWTSecret:         "test-secret",
		VolunteerOfferTTL: time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger)
}

func (s *Server) seedActor(t *testing.T, a *models.Actor) {
	t.Helper()
	err := s.Store.Transact(context.Background(), func(tx store.Tx) error {
		return tx.PutActor(a)
	})
	if err != nil {
		t.Fatalf("seed actor %s: %v", a.ID, err)
	}
}

func token(t *testing.T, s *Server, actorID string, role models.Role) string {
	t.Helper()
	tok, err := s.Gate.IssueToken(actorID, role, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateDonationRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/donations", "", map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946}, "food_item": "rice",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateDonationRejectsWrongRole(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/donations", token(t, s, "v1", models.RoleVolunteer), map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946}, "food_item": "rice",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateDonationValidation(t *testing.T) {
	s := newTestServer(t)
	donor := token(t, s, "donor-1", models.RoleDonor)

	rec := doJSON(t, s, "POST", "/api/v1/donations", donor, map[string]any{
		"location": map[string]float64{"lat": 200, "lon": 500}, "food_item": "rice",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad location, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/donations", donor, map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing food item, got %d", rec.Code)
	}
}

func TestCreateDonationMatchesNearestBeneficiary(t *testing.T) {
	s := newTestServer(t)
	s.seedActor(t, &models.Actor{ID: "b-near", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9720, Lon: 77.5950}})
	s.seedActor(t, &models.Actor{ID: "b-far", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9304, Lon: 77.6254}})

	rec := doJSON(t, s, "POST", "/api/v1/donations", token(t, s, "donor-1", models.RoleDonor), map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946},
		"food_item": "rice", "quantity": 5, "food_type": "cooked",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		DonationID string `json:"donation_id"`
	}
	decode(t, rec, &resp)
	if resp.DonationID == "" {
		t.Fatal("expected a donation id")
	}

	d, err := s.Store.Donation(context.Background(), resp.DonationID)
	if err != nil {
		t.Fatalf("read donation: %v", err)
	}
	if d.Status != models.DonationOffered || d.OfferedTo != "b-near" {
		t.Fatalf("expected offer to nearest, got status=%s offered_to=%s", d.Status, d.OfferedTo)
	}
}

func TestCreateDonationNoBeneficiariesExpires(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/donations", token(t, s, "donor-1", models.RoleDonor), map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946}, "food_item": "rice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		DonationID string `json:"donation_id"`
	}
	decode(t, rec, &resp)

	d, _ := s.Store.Donation(context.Background(), resp.DonationID)
	if d.Status != models.DonationExpired || d.LastError != "No eligible beneficiary found" {
		t.Fatalf("unexpected donation state: %+v", d)
	}
}

// createAssignedTask drives a donation through matching and beneficiary
// acceptance so task-level handlers have something to act on.
func createAssignedTask(t *testing.T, s *Server) (donationID string) {
	t.Helper()
	s.seedActor(t, &models.Actor{ID: "b1", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9720, Lon: 77.5950}})
	s.seedActor(t, &models.Actor{ID: "v1", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable, TransportActive: true, Location: &models.Coord{Lat: 12.9600, Lon: 77.6000}})
	s.seedActor(t, &models.Actor{ID: "v2", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable, TransportActive: true, Location: &models.Coord{Lat: 12.9304, Lon: 77.6254}})

	rec := doJSON(t, s, "POST", "/api/v1/donations", token(t, s, "donor-1", models.RoleDonor), map[string]any{
		"location": map[string]float64{"lat": 12.9716, "lon": 77.5946},
		"food_item": "rice", "quantity": 2, "food_type": "cooked",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create donation: %d", rec.Code)
	}
	var resp struct {
		DonationID string `json:"donation_id"`
	}
	decode(t, rec, &resp)

	rec = doJSON(t, s, "POST", "/api/v1/donations/"+resp.DonationID+"/decision", token(t, s, "b1", models.RoleBeneficiary), map[string]any{"decision": "accept"})
	if rec.Code != http.StatusOK {
		t.Fatalf("beneficiary accept: %d: %s", rec.Code, rec.Body.String())
	}
	return resp.DonationID
}

func TestVolunteerAcceptFlow(t *testing.T) {
	s := newTestServer(t)
	id := createAssignedTask(t, s)

	// a volunteer who was not offered the task cannot take it
	rec := doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/accept", token(t, s, "v2", models.RoleVolunteer), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong volunteer, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/accept", token(t, s, "v1", models.RoleVolunteer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	task, _ := s.Store.Task(context.Background(), id)
	if task.Status != models.TaskAccepted {
		t.Fatalf("expected accepted task, got %s", task.Status)
	}
	d, _ := s.Store.Donation(context.Background(), id)
	if d.Status != models.DonationAssigned || d.AssignedVolunteerID != "v1" {
		t.Fatalf("unexpected donation state: %+v", d)
	}
}

func TestVolunteerRejectReassigns(t *testing.T) {
	s := newTestServer(t)
	id := createAssignedTask(t, s)

	rec := doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/reject", token(t, s, "v1", models.RoleVolunteer), map[string]any{"reason": "too far"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OK           bool    `json:"ok"`
		ReassignedTo *string `json:"reassigned_to"`
	}
	decode(t, rec, &resp)
	if resp.ReassignedTo == nil || *resp.ReassignedTo != "v2" {
		t.Fatalf("expected reassignment to v2, got %+v", resp.ReassignedTo)
	}

	// last candidate rejects too: queue exhausted, reassigned_to is null
	rec = doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/reject", token(t, s, "v2", models.RoleVolunteer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp.ReassignedTo = nil
	decode(t, rec, &resp)
	if resp.ReassignedTo != nil {
		t.Fatalf("expected null reassigned_to on exhaustion, got %v", *resp.ReassignedTo)
	}
	task, _ := s.Store.Task(context.Background(), id)
	if task.Status != models.TaskUnassigned {
		t.Fatalf("expected unassigned task, got %s", task.Status)
	}
}

func TestCompleteRequiresCurrentVolunteer(t *testing.T) {
	s := newTestServer(t)
	id := createAssignedTask(t, s)
	rec := doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/accept", token(t, s, "v1", models.RoleVolunteer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/complete", token(t, s, "v2", models.RoleVolunteer), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-assigned volunteer, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/tasks/"+id+"/complete", token(t, s, "v1", models.RoleVolunteer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	d, _ := s.Store.Donation(context.Background(), id)
	if d.Status != models.DonationDelivered {
		t.Fatalf("expected delivered, got %s", d.Status)
	}
}

func TestDecisionValidation(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/donations/x/decision", token(t, s, "b1", models.RoleBeneficiary), map[string]any{"decision": "maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRematchEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seedActor(t, &models.Actor{ID: "b1", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9720, Lon: 77.5950}})
	// a pending donation that was declined earlier
	_ = s.Store.Transact(context.Background(), func(tx store.Tx) error {
		return tx.PutDonation(&models.Donation{ID: "d1", DonorID: "donor-1", Location: models.Coord{Lat: 12.9716, Lon: 77.5946}, FoodItem: "rice", Status: models.DonationPending})
	})

	rec := doJSON(t, s, "POST", "/api/v1/donations/d1/rematch", token(t, s, "donor-1", models.RoleDonor), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	d, _ := s.Store.Donation(context.Background(), "d1")
	if d.Status != models.DonationOffered || d.OfferedTo != "b1" {
		t.Fatalf("expected rematch to re-offer, got %+v", d)
	}
}

func TestTransportToggle(t *testing.T) {
	s := newTestServer(t)
	s.seedActor(t, &models.Actor{ID: "v1", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable, TransportActive: true})

	rec := doJSON(t, s, "POST", "/api/v1/volunteers/toggle", token(t, s, "v1", models.RoleVolunteer), map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	a, _ := s.Store.Actor(context.Background(), "v1")
	if a.TransportActive || a.Availability != models.AvailabilityInactive {
		t.Fatalf("unexpected actor state: %+v", a)
	}

	rec = doJSON(t, s, "POST", "/api/v1/volunteers/toggle", token(t, s, "v1", models.RoleVolunteer), map[string]any{"active": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	a, _ = s.Store.Actor(context.Background(), "v1")
	if !a.TransportActive || a.Availability != models.AvailabilityAvailable {
		t.Fatalf("unexpected actor state: %+v", a)
	}
}

func TestToggleDoesNotInterruptActiveDelivery(t *testing.T) {
	s := newTestServer(t)
	s.seedActor(t, &models.Actor{ID: "v1", Role: models.RoleVolunteer, Availability: models.AvailabilityBusy, TransportActive: true})

	rec := doJSON(t, s, "POST", "/api/v1/volunteers/toggle", token(t, s, "v1", models.RoleVolunteer), map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	a, _ := s.Store.Actor(context.Background(), "v1")
	if a.Availability != models.AvailabilityBusy {
		t.Fatalf("busy volunteer must stay busy, got %s", a.Availability)
	}
}

func TestUpsertActorAdminOnly(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"id": "b9", "role": "beneficiary", "location": map[string]float64{"lat": 1, "lon": 1}}

	rec := doJSON(t, s, "POST", "/api/v1/actors", token(t, s, "v1", models.RoleVolunteer), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for volunteer, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/actors", token(t, s, "admin-1", models.RoleAdmin), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := s.Store.Actor(context.Background(), "b9"); err != nil {
		t.Fatalf("actor not persisted: %v", err)
	}
}

func TestNearestBeneficiaries(t *testing.T) {
	s := newTestServer(t)
	s.seedActor(t, &models.Actor{ID: "b-far", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9304, Lon: 77.6254}})
	s.seedActor(t, &models.Actor{ID: "b-near", Role: models.RoleBeneficiary, Location: &models.Coord{Lat: 12.9720, Lon: 77.5950}})

	rec := doJSON(t, s, "GET", "/api/v1/beneficiaries/nearest?lat=12.9716&lon=77.5946", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []struct {
		BeneficiaryID string  `json:"beneficiary_id"`
		DistanceKm    float64 `json:"distance_km"`
	}
	decode(t, rec, &out)
	if len(out) != 2 || out[0].BeneficiaryID != "b-near" {
		t.Fatalf("unexpected ranking: %+v", out)
	}

	rec = doJSON(t, s, "GET", "/api/v1/beneficiaries/nearest?lat=abc&lon=77", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad lat, got %d", rec.Code)
	}
}

func TestActorLocationPing(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "POST", "/internal/actor/locations", "", map[string]any{
		"id": "v1", "role": "volunteer", "location": map[string]float64{"lat": 12.9716, "lon": 77.5946},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if loc, ok := s.Geo.Lookup("v1"); !ok || loc.Lat != 12.9716 {
		t.Fatalf("geo index not updated: %v %v", loc, ok)
	}
	a, err := s.Store.Actor(context.Background(), "v1")
	if err != nil {
		t.Fatalf("actor record not created: %v", err)
	}
	if a.Location == nil || a.Location.Lat != 12.9716 {
		t.Fatalf("durable location not written: %+v", a)
	}

	rec = doJSON(t, s, "POST", "/internal/actor/locations", "", map[string]any{"id": "", "location": map[string]float64{"lat": 1, "lon": 1}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
