package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// Geo is the minimal live-location index required by the handlers and the
// actor directory overlay.
type Geo interface {
	Nearby(lat, lon float64, limit int) []models.Actor
	Upsert(a models.Actor)
	Lookup(id string) (models.Coord, bool)
}

type Index struct {
	mu     sync.RWMutex
	actors map[string]models.Actor
}

func NewIndex() *Index {
	return &Index{actors: make(map[string]models.Actor)}
}

func (g *Index) Upsert(a models.Actor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a.Updated = time.Now()
	g.actors[a.ID] = a
}

func (g *Index) Lookup(id string) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.actors[id]
	if !ok || a.Location == nil {
		return models.Coord{}, false
	}
	return *a.Location, true
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []models.Actor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		a    models.Actor
		dist float64
	}
	arr := make([]pair, 0, len(g.actors))
	for _, a := range g.actors {
		if a.Availability != models.AvailabilityAvailable || a.Location == nil {
			continue
		}
		dist := DistanceKm(models.Coord{Lat: lat, Lon: lon}, *a.Location)
		arr = append(arr, pair{a, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Actor, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].a)
	}
	return out
}

// DistanceKm is the haversine great-circle distance between two coordinates
// in kilometers. Used for ranking only; not a routing distance.
func DistanceKm(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
