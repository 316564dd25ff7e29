package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/vai-no-pulo/internal/models"
)

// fakeRoutes returns a canned polyline per driver origin latitude so one
// fake can serve several trips in a single test.
type fakeRoutes struct {
	polys map[float64][]models.Coord
	err   error
}

func (f *fakeRoutes) Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.polys[from.Lat], nil
}

// A straight west-to-east route along the equator.
func equatorRoute() []models.Coord {
	return []models.Coord{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.5},
		{Lat: 0, Lng: 1},
		{Lat: 0, Lng: 1.5},
		{Lat: 0, Lng: 2},
	}
}

func newTestEvaluator(poly []models.Coord) *Evaluator {
	return NewEvaluator(&fakeRoutes{polys: map[float64][]models.Coord{0: poly}}, DefaultToleranceKm)
}

func TestCheckRouteMatch_BothPointsOnRoute(t *testing.T) {
	e := newTestEvaluator(equatorRoute())
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		models.Coord{Lat: 0.01, Lng: 0.5}, models.Coord{Lat: 0.01, Lng: 1.5}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsMatch {
		t.Fatalf("expected a match, got %+v", r)
	}
	if r.OriginIndex != 1 || r.DestinationIndex != 3 {
		t.Fatalf("expected indices 1 and 3, got %d and %d", r.OriginIndex, r.DestinationIndex)
	}
	if r.DetourKm != r.OriginDistanceKm+r.DestinationDistanceKm {
		t.Fatalf("detour should be the sum of both distances")
	}
}

func TestCheckRouteMatch_WrongDirectionIsNoMatch(t *testing.T) {
	e := newTestEvaluator(equatorRoute())
	// Customer travels east-to-west against the route.
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		models.Coord{Lat: 0, Lng: 1.5}, models.Coord{Lat: 0, Lng: 0.5}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.OriginOnRoute || !r.DestinationOnRoute {
		t.Fatalf("both points should be on the route: %+v", r)
	}
	if r.IsMatch {
		t.Fatal("a reversed journey must not match")
	}
}

func TestCheckRouteMatch_SameNearestVertexIsNoMatch(t *testing.T) {
	e := newTestEvaluator(equatorRoute())
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		models.Coord{Lat: 0.01, Lng: 1}, models.Coord{Lat: -0.01, Lng: 1}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsMatch {
		t.Fatal("equal indices must not match")
	}
}

func TestCheckRouteMatch_ToleranceBoundaryIsInclusive(t *testing.T) {
	e := newTestEvaluator(equatorRoute())
	origin := models.Coord{Lat: 0.1, Lng: 0.5}
	dest := models.Coord{Lat: 0, Lng: 1.5}

	// The exact vertex distance counts as on-route.
	d := HaversineKm(origin.Lat, origin.Lng, 0, 0.5)
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		origin, dest, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.OriginOnRoute || !r.IsMatch {
		t.Fatalf("a point exactly at the tolerance must be on-route: %+v", r)
	}

	// Just inside the distance it is not.
	r, err = e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		origin, dest, d*0.999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OriginOnRoute || r.IsMatch {
		t.Fatalf("a point beyond the tolerance must be off-route: %+v", r)
	}
}

func TestCheckRouteMatch_TieKeepsLowestIndex(t *testing.T) {
	// Two equidistant vertices around the point at Lng 1.
	poly := []models.Coord{
		{Lat: 0, Lng: 0.9},
		{Lat: 0, Lng: 1.1},
		{Lat: 0, Lng: 2},
	}
	e := NewEvaluator(&fakeRoutes{polys: map[float64][]models.Coord{0: poly}}, DefaultToleranceKm)
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 2},
		models.Coord{Lat: 0, Lng: 1}, models.Coord{Lat: 0, Lng: 2}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OriginIndex != 0 {
		t.Fatalf("ties should keep the lowest index, got %d", r.OriginIndex)
	}
}

func TestCheckRouteMatch_ProviderErrorFailsClosed(t *testing.T) {
	e := NewEvaluator(&fakeRoutes{err: errors.New("osrm down")}, DefaultToleranceKm)
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{}, models.Coord{Lat: 0, Lng: 2},
		models.Coord{}, models.Coord{Lat: 0, Lng: 1}, 0)
	if err == nil {
		t.Fatal("expected a provider error")
	}
	if r.IsMatch {
		t.Fatal("an unverifiable route must not match")
	}
}

func TestCheckRouteMatch_DegeneratePolyline(t *testing.T) {
	e := newTestEvaluator([]models.Coord{{Lat: 0, Lng: 0}})
	r, err := e.CheckRouteMatch(context.Background(),
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 0},
		models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 0}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsMatch || r.OriginOnRoute {
		t.Fatalf("a single-vertex route cannot host a journey: %+v", r)
	}
}

func TestFilterCompatibleTrips_PreservesOrderAndSkipsFailures(t *testing.T) {
	f := &fakeRoutes{polys: map[float64][]models.Coord{
		0: equatorRoute(),
		// Trip at Lat 10 runs far from the customer: no match.
		10: {{Lat: 10, Lng: 0}, {Lat: 10, Lng: 2}},
		// Trip at Lat 0.02 parallels the customer's journey closely.
		0.02: {
			{Lat: 0.02, Lng: 0},
			{Lat: 0.02, Lng: 0.5},
			{Lat: 0.02, Lng: 1},
			{Lat: 0.02, Lng: 1.5},
			{Lat: 0.02, Lng: 2},
		},
	}}
	e := NewEvaluator(f, DefaultToleranceKm)

	trips := []*models.Trip{
		{ID: "t1", Origin: models.Coord{Lat: 0, Lng: 0}, Dest: models.Coord{Lat: 0, Lng: 2}, DepartureAt: time.Now()},
		{ID: "t2", Origin: models.Coord{Lat: 10, Lng: 0}, Dest: models.Coord{Lat: 10, Lng: 2}},
		{ID: "t3", Origin: models.Coord{Lat: 0.02, Lng: 0}, Dest: models.Coord{Lat: 0.02, Lng: 2}},
	}
	got := e.FilterCompatibleTrips(context.Background(), trips,
		models.Coord{Lat: 0, Lng: 0.5}, models.Coord{Lat: 0, Lng: 1.5}, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Trip.ID != "t1" || got[1].Trip.ID != "t3" {
		t.Fatalf("matches must keep candidate order, got %s then %s", got[0].Trip.ID, got[1].Trip.ID)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// São Paulo to Rio de Janeiro is roughly 360km.
	d := HaversineKm(-23.5505, -46.6333, -22.9068, -43.1729)
	if d < 350 || d > 370 {
		t.Fatalf("expected ~360km, got %f", d)
	}
}
