package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/trips"
)

func (s *Server) registerTripRoutes(api *mux.Router) {
	api.HandleFunc("/trips", s.handleCreateTrip).Methods("POST")
	api.HandleFunc("/trips", s.handleListTrips).Methods("GET")
	api.HandleFunc("/trips/search", s.handleSearchTrips).Methods("GET")
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}", s.handleUpdateTrip).Methods("PUT")
	api.HandleFunc("/trips/{id}", s.handleDeleteTrip).Methods("DELETE")
	api.HandleFunc("/trips/{id}/start", s.handleTripTransition(s.tripStart)).Methods("POST")
	api.HandleFunc("/trips/{id}/complete", s.handleTripTransition(s.tripComplete)).Methods("POST")
	api.HandleFunc("/trips/{id}/cancel", s.handleTripTransition(s.tripCancel)).Methods("POST")
	api.HandleFunc("/vehicles", s.handleRegisterVehicle).Methods("POST")
}

type tripReq struct {
	VehicleID   string    `json:"vehicle_id"`
	OriginName  string    `json:"origin_name"`
	Origin      coordReq  `json:"origin"`
	DestName    string    `json:"dest_name"`
	Dest        coordReq  `json:"dest"`
	DepartureAt time.Time `json:"departure_at"`
	CapacityKg  float64   `json:"capacity_kg"`
}

func (r tripReq) command() trips.CreateCommand {
	return trips.CreateCommand{
		VehicleID:   r.VehicleID,
		OriginName:  r.OriginName,
		Origin:      r.Origin.coord(),
		DestName:    r.DestName,
		Dest:        r.Dest.coord(),
		DepartureAt: r.DepartureAt,
		CapacityKg:  r.CapacityKg,
	}
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	if role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers can offer trips")
		return
	}
	var req tripReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := s.Trips.Create(r.Context(), req.command(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	list, err := s.Trips.ListByDriver(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": list})
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req tripReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := s.Trips.Update(r.Context(), mux.Vars(r)["id"], id, req.command())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.Trips.Delete(r.Context(), mux.Vars(r)["id"], id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tripTransition func(r *http.Request, tripID, driverID string) (*models.Trip, error)

func (s *Server) tripStart(r *http.Request, tripID, driverID string) (*models.Trip, error) {
	return s.Trips.Start(r.Context(), tripID, driverID)
}

func (s *Server) tripComplete(r *http.Request, tripID, driverID string) (*models.Trip, error) {
	return s.Trips.Complete(r.Context(), tripID, driverID)
}

func (s *Server) tripCancel(r *http.Request, tripID, driverID string) (*models.Trip, error) {
	return s.Trips.Cancel(r.Context(), tripID, driverID)
}

func (s *Server) handleTripTransition(fn tripTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := s.identity(w, r)
		if !ok {
			return
		}
		t, err := fn(r, mux.Vars(r)["id"], id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleSearchTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err1 := parseCoord(q.Get("origin_lat"), q.Get("origin_lng"))
	dest, err2 := parseCoord(q.Get("dest_lat"), q.Get("dest_lng"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "origin_lat, origin_lng, dest_lat and dest_lng are required")
		return
	}
	tolerance := 0.0
	if v := q.Get("tolerance_km"); v != "" {
		tolerance, err1 = strconv.ParseFloat(v, 64)
		if err1 != nil {
			writeError(w, http.StatusBadRequest, "invalid tolerance_km")
			return
		}
	}
	matches, err := s.Trips.Search(r.Context(), origin, dest, tolerance)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": matches})
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	if role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers can register vehicles")
		return
	}
	var req struct {
		Plate      string  `json:"plate"`
		Model      string  `json:"model"`
		CapacityKg float64 `json:"capacity_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	v, err := s.Trips.RegisterVehicle(r.Context(), id, req.Plate, req.Model, req.CapacityKg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func parseCoord(latStr, lngStr string) (models.Coord, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return models.Coord{}, err
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return models.Coord{}, err
	}
	return models.Coord{Lat: lat, Lng: lng}, nil
}
