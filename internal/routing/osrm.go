package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/vai-no-pulo/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

type osrmResponse struct {
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Geometry struct {
			// GeoJSON LineString: [lng, lat] pairs.
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
	Code string `json:"code"`
}

// Polyline queries OSRM /route with full geometry and returns the route
// vertices normalized to lat/lng order.
func (o *OSRMClient) Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	out, err := o.route(ctx, from, to, "overview=full&geometries=geojson")
	if err != nil {
		return nil, err
	}
	coords := out.Routes[0].Geometry.Coordinates
	poly := make([]models.Coord, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		poly = append(poly, models.Coord{Lat: c[1], Lng: c[0]})
	}
	return poly, nil
}

// DistanceKm returns the driving distance between two points.
func (o *OSRMClient) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	out, err := o.route(ctx, from, to, "overview=false")
	if err != nil {
		return 0, err
	}
	return out.Routes[0].Distance / 1000.0, nil
}

func (o *OSRMClient) route(ctx context.Context, from, to models.Coord, params string) (*osrmResponse, error) {
	// OSRM route query: /route/v1/driving/{lng1},{lat1};{lng2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?%s",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return &out, nil
}
