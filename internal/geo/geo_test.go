package geo

import (
	"math"
	"testing"

	"github.com/example/food-dispatch/internal/models"
)

func TestDistanceKmZeroForSamePoint(t *testing.T) {
	p := models.Coord{Lat: 12.9716, Lon: 77.5946}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmKnownPairs(t *testing.T) {
	pickup := models.Coord{Lat: 12.9716, Lon: 77.5946}
	near := models.Coord{Lat: 12.9720, Lon: 77.5950}
	far := models.Coord{Lat: 12.9304, Lon: 77.6254}

	dNear := DistanceKm(pickup, near)
	if dNear < 0.03 || dNear > 0.1 {
		t.Fatalf("near distance out of range: %f", dNear)
	}
	dFar := DistanceKm(pickup, far)
	if dFar < 5.0 || dFar > 7.0 {
		t.Fatalf("far distance out of range: %f", dFar)
	}
	if dNear >= dFar {
		t.Fatalf("expected near < far, got %f >= %f", dNear, dFar)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := models.Coord{Lat: 12.9716, Lon: 77.5946}
	b := models.Coord{Lat: 13.0827, Lon: 80.2707}
	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestIndexNearbyOrdersAndFilters(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Actor{ID: "v-far", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable, Location: &models.Coord{Lat: 12.9304, Lon: 77.6254}})
	idx.Upsert(models.Actor{ID: "v-near", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable, Location: &models.Coord{Lat: 12.9720, Lon: 77.5950}})
	idx.Upsert(models.Actor{ID: "v-busy", Role: models.RoleVolunteer, Availability: models.AvailabilityBusy, Location: &models.Coord{Lat: 12.9716, Lon: 77.5946}})
	idx.Upsert(models.Actor{ID: "v-noloc", Role: models.RoleVolunteer, Availability: models.AvailabilityAvailable})

	got := idx.Nearby(12.9716, 77.5946, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "v-near" || got[1].ID != "v-far" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestIndexNearbyHonorsLimit(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Actor{ID: "a", Availability: models.AvailabilityAvailable, Location: &models.Coord{Lat: 1, Lon: 1}})
	idx.Upsert(models.Actor{ID: "b", Availability: models.AvailabilityAvailable, Location: &models.Coord{Lat: 2, Lon: 2}})
	idx.Upsert(models.Actor{ID: "c", Availability: models.AvailabilityAvailable, Location: &models.Coord{Lat: 3, Lon: 3}})

	if got := idx.Nearby(0, 0, 2); len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
}

func TestIndexLookup(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Actor{ID: "v1", Location: &models.Coord{Lat: 10, Lon: 20}})

	loc, ok := idx.Lookup("v1")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if loc.Lat != 10 || loc.Lon != 20 {
		t.Fatalf("unexpected location: %+v", loc)
	}
	if _, ok := idx.Lookup("missing"); ok {
		t.Fatal("expected lookup miss")
	}
}
