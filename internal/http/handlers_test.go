package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/vai-no-pulo/internal/match"
	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/notify"
	"github.com/example/vai-no-pulo/internal/orders"
	"github.com/example/vai-no-pulo/internal/storage"
	"github.com/example/vai-no-pulo/internal/trips"
)

type fixedRoutes struct {
	poly []models.Coord
	err  error
}

func (f fixedRoutes) Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	return f.poly, f.err
}

func newTestServer(routes match.RouteSource) *Server {
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	matcher := match.NewEvaluator(routes, match.DefaultToleranceKm)
	ordersSvc := &orders.Service{Store: store, Trips: store, Logger: logger, BaseFareCents: 500, PricePerKmCents: 120}
	tripsSvc := &trips.Service{Store: store, Matcher: matcher, SearchRadiusKm: 100, SearchLimit: 50}
	return NewServer(logger, ordersSvc, tripsSvc, matcher, notify.NewWSRegistry())
}

func doJSON(t *testing.T, s *Server, method, path, userID string, role models.Role, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Role", string(role))
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(fixedRoutes{})
	w := doJSON(t, s, http.MethodGet, "/api/v1/orders", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	s := newTestServer(fixedRoutes{})
	w := doJSON(t, s, http.MethodGet, "/api/v1/orders", "u1", "ADMIN", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown role, got %d", w.Code)
	}
}

func TestOrderCreateAndAcceptOverHTTP(t *testing.T) {
	s := newTestServer(fixedRoutes{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", "c1", models.RoleCustomer, map[string]any{
		"item_description": "a box",
		"weight_kg":        5,
		"origin":           map[string]float64{"lat": -23.55, "lng": -46.63},
		"dest":             map[string]float64{"lat": -22.91, "lng": -43.17},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+created.ID+"/accept", "d1", models.RoleDriver, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		IsFirstAcceptance bool `json:"is_first_acceptance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsFirstAcceptance {
		t.Fatal("the first accept must report is_first_acceptance=true")
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+created.ID+"/accept", "d2", models.RoleDriver, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second accept: expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsFirstAcceptance {
		t.Fatal("a later accept must report is_first_acceptance=false")
	}
}

func TestCustomersCannotAccept(t *testing.T) {
	s := newTestServer(fixedRoutes{})
	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/whatever/accept", "c1", models.RoleCustomer, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	s := newTestServer(fixedRoutes{})
	w := doJSON(t, s, http.MethodGet, "/api/v1/orders/missing", "c1", models.RoleCustomer, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCheckMatchFailsClosedOnProviderError(t *testing.T) {
	s := newTestServer(fixedRoutes{err: errors.New("osrm down")})
	w := doJSON(t, s, http.MethodPost, "/api/v1/match/check", "", "", map[string]any{
		"driver_origin": map[string]float64{"lat": 0, "lng": 0},
		"driver_dest":   map[string]float64{"lat": 0, "lng": 2},
		"client_origin": map[string]float64{"lat": 0, "lng": 0.5},
		"client_dest":   map[string]float64{"lat": 0, "lng": 1.5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var r match.Result
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.IsMatch {
		t.Fatal("an unverifiable route must report no match")
	}
}

func TestCheckMatchHappyPath(t *testing.T) {
	s := newTestServer(fixedRoutes{poly: []models.Coord{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 0, Lng: 2},
	}})
	w := doJSON(t, s, http.MethodPost, "/api/v1/match/check", "", "", map[string]any{
		"driver_origin": map[string]float64{"lat": 0, "lng": 0},
		"driver_dest":   map[string]float64{"lat": 0, "lng": 2},
		"client_origin": map[string]float64{"lat": 0, "lng": 0},
		"client_dest":   map[string]float64{"lat": 0, "lng": 2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var r match.Result
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !r.IsMatch {
		t.Fatalf("expected a match: %+v", r)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(fixedRoutes{})
	w := doJSON(t, s, http.MethodGet, "/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
