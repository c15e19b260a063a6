package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/food-dispatch/internal/models"
)

type fakeUpdater struct {
	geoCalls  int
	hsetCalls int
	geoFails  int
	hsetFails int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.geoFails {
		return errors.New("geoadd transient error")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetCalls <= f.hsetFails {
		return errors.New("hset transient error")
	}
	return nil
}

func testActor() *models.Actor {
	return &models.Actor{
		ID:           "v1",
		Role:         models.RoleVolunteer,
		Availability: models.AvailabilityAvailable,
		Location:     &models.Coord{Lat: 12.9716, Lon: 77.5946},
	}
}

func TestUpdateRedisWithRetrySucceedsFirstTry(t *testing.T) {
	f := &fakeUpdater{}
	if err := updateRedisWithRetry(context.Background(), f, "volunteers_geo", testActor(), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.geoCalls != 1 || f.hsetCalls != 1 {
		t.Fatalf("expected one call each, got geo=%d hset=%d", f.geoCalls, f.hsetCalls)
	}
}

func TestUpdateRedisWithRetryRecoversFromTransientFailure(t *testing.T) {
	f := &fakeUpdater{geoFails: 2}
	if err := updateRedisWithRetry(context.Background(), f, "volunteers_geo", testActor(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery, got: %v", err)
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 geoadd attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetryGivesUpAfterAttempts(t *testing.T) {
	f := &fakeUpdater{geoFails: 10}
	err := updateRedisWithRetry(context.Background(), f, "volunteers_geo", testActor(), 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetryHSetFailureRetries(t *testing.T) {
	f := &fakeUpdater{hsetFails: 1}
	if err := updateRedisWithRetry(context.Background(), f, "volunteers_geo", testActor(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery, got: %v", err)
	}
	if f.hsetCalls != 2 {
		t.Fatalf("expected 2 hset attempts, got %d", f.hsetCalls)
	}
}
