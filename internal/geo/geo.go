package geo

import (
	"math"
	"sync"

	"github.com/example/vai-no-pulo/internal/models"
)

// Index is the spatial index of open trip origins used as the search
// prefilter: candidates within the radius are then run through the route
// match evaluator.
type Index interface {
	Upsert(tripID string, origin models.Coord)
	Remove(tripID string)
	Nearby(p models.Coord, radiusKm float64, limit int) []string
}

type MemoryIndex struct {
	mu    sync.RWMutex
	trips map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{trips: make(map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(tripID string, origin models.Coord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trips[tripID] = origin
}

func (g *MemoryIndex) Remove(tripID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.trips, tripID)
}

// naive scan; in prod use Redis GEO (see RedisIndex) or geo-hashing
func (g *MemoryIndex) Nearby(p models.Coord, radiusKm float64, limit int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.trips))
	for id, origin := range g.trips {
		dist := haversineMeters(p.Lat, p.Lng, origin.Lat, origin.Lng)
		if dist <= radiusKm*1000 {
			arr = append(arr, pair{id, dist})
		}
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
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].id)
	}
	return out
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
