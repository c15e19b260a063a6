package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/food-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands. It holds the live
// volunteer positions fed by the location consumer.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(a models.Actor) {
	if a.Location == nil {
		return
	}
	// GEOADD for position, HSET for metadata
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: a.Location.Lon, Latitude: a.Location.Lat, Name: a.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(a.ID), map[string]interface{}{
		"role":             string(a.Role),
		"availability":     string(a.Availability),
		"transport_active": strconv.FormatBool(a.TransportActive),
		"updated":          time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Lookup(id string) (models.Coord, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, true
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []models.Actor {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 50, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Actor, 0, len(res))
	for _, g := range res {
		a := models.Actor{ID: g.Name}
		a.Location = &models.Coord{Lat: g.Latitude, Lon: g.Longitude}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["role"]; ok {
				a.Role = models.Role(v)
			}
			if v, ok := m["availability"]; ok {
				a.Availability = models.Availability(v)
			}
			if v, ok := m["transport_active"]; ok {
				a.TransportActive = v == "true"
			}
		}
		out = append(out, a)
	}
	return out
}

func metaKey(id string) string { return "actor:meta:" + id }
