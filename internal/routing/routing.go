package routing

import (
	"context"

	"github.com/example/vai-no-pulo/internal/models"
)

// Provider is the routing/geocoding collaborator. Polyline returns the
// driving route between two points as an ordered sequence of vertices;
// DistanceKm returns the road distance. Both may fail when the provider
// is down — callers decide the fallback (the match evaluator fails
// closed, pricing substitutes a straight-line estimate).
type Provider interface {
	Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error)
	DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
}
