package match

import (
	"context"
	"math"

	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/observability"
)

// DefaultToleranceKm is the maximum distance from a route vertex at which
// a point still counts as on-route.
const DefaultToleranceKm = 20.0

// RouteSource supplies the driver's route geometry.
type RouteSource interface {
	Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error)
}

// Result describes how a customer's origin/destination relate to a
// driver's route. Computed per match attempt, never persisted.
type Result struct {
	OriginOnRoute      bool `json:"origin_on_route"`
	DestinationOnRoute bool `json:"destination_on_route"`

	OriginDistanceKm      float64 `json:"origin_distance_km"`
	DestinationDistanceKm float64 `json:"destination_distance_km"`

	// Indices of the nearest polyline vertex for each point. The match
	// additionally requires OriginIndex < DestinationIndex so the
	// customer's journey flows the same way as the driver's.
	OriginIndex      int `json:"origin_index"`
	DestinationIndex int `json:"destination_index"`

	IsMatch bool `json:"is_match"`

	// DetourKm is the sum of the two nearest-vertex distances: a rough
	// indication of extra driving, not a true shortest-detour figure.
	DetourKm float64 `json:"detour_km"`
}

// TripMatch is a trip annotated with its match distances for display.
type TripMatch struct {
	Trip  *models.Trip `json:"trip"`
	Match Result       `json:"match"`
}

// Evaluator decides whether a customer's journey is compatible with a
// driver's route.
type Evaluator struct {
	Routes      RouteSource
	ToleranceKm float64
}

func NewEvaluator(routes RouteSource, toleranceKm float64) *Evaluator {
	if toleranceKm <= 0 {
		toleranceKm = DefaultToleranceKm
	}
	return &Evaluator{Routes: routes, ToleranceKm: toleranceKm}
}

// CheckRouteMatch fetches the driver's route polyline and tests whether
// both customer points lie within toleranceKm of it, in route order.
// When the routing provider cannot produce a polyline the driver's route
// cannot be verified and the check fails closed.
func (e *Evaluator) CheckRouteMatch(ctx context.Context, driverOrigin, driverDest, clientOrigin, clientDest models.Coord, toleranceKm float64) (Result, error) {
	if toleranceKm <= 0 {
		toleranceKm = e.ToleranceKm
	}
	observability.MatchEvaluationsTotal.Inc()

	poly, err := e.Routes.Polyline(ctx, driverOrigin, driverDest)
	if err != nil {
		return Result{}, err
	}
	if len(poly) < 2 {
		// A zero- or single-point polyline collapses both indices to 0,
		// so the directionality guard can never hold.
		return Result{}, nil
	}

	r := Result{}
	r.OriginDistanceKm, r.OriginIndex = nearestVertex(poly, clientOrigin)
	r.DestinationDistanceKm, r.DestinationIndex = nearestVertex(poly, clientDest)
	r.OriginOnRoute = r.OriginDistanceKm <= toleranceKm
	r.DestinationOnRoute = r.DestinationDistanceKm <= toleranceKm
	r.DetourKm = r.OriginDistanceKm + r.DestinationDistanceKm
	r.IsMatch = r.OriginOnRoute && r.DestinationOnRoute && r.OriginIndex < r.DestinationIndex

	if r.IsMatch {
		observability.MatchHitsTotal.Inc()
	}
	return r, nil
}

// FilterCompatibleTrips applies the single-trip match to each candidate
// and keeps the matches, annotated with their distances. Evaluation and
// result order follow input order; no ranking by detour is applied. Trips
// whose route cannot be fetched are skipped (fail closed).
func (e *Evaluator) FilterCompatibleTrips(ctx context.Context, trips []*models.Trip, clientOrigin, clientDest models.Coord, toleranceKm float64) []TripMatch {
	var out []TripMatch
	for _, t := range trips {
		r, err := e.CheckRouteMatch(ctx, t.Origin, t.Dest, clientOrigin, clientDest, toleranceKm)
		if err != nil || !r.IsMatch {
			continue
		}
		out = append(out, TripMatch{Trip: t, Match: r})
	}
	return out
}

// nearestVertex scans every vertex and returns the minimum great-circle
// distance and the index of the closest vertex. Strict less-than keeps
// the lowest index on equidistant ties.
func nearestVertex(poly []models.Coord, p models.Coord) (float64, int) {
	best := math.MaxFloat64
	idx := 0
	for i, v := range poly {
		if d := HaversineKm(p.Lat, p.Lng, v.Lat, v.Lng); d < best {
			best = d
			idx = i
		}
	}
	return best, idx
}

// HaversineKm is the great-circle distance in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
