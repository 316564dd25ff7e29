package trips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/vai-no-pulo/internal/geo"
	"github.com/example/vai-no-pulo/internal/match"
	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/storage"
)

var (
	ErrNotFound   = errors.New("trip not found")
	ErrForbidden  = errors.New("not allowed")
	ErrBadRequest = errors.New("invalid request")
	ErrConflict   = errors.New("trip was modified concurrently, try again")
)

// Service owns the trip lifecycle (SCHEDULED → ACTIVE → COMPLETED, with
// CANCELLED from non-terminal states) and the compatible-trip search.
type Service struct {
	Store   storage.TripStore
	Geo     geo.Index // optional prefilter index of scheduled trip origins
	Matcher *match.Evaluator

	SearchRadiusKm float64
	SearchLimit    int
}

type CreateCommand struct {
	VehicleID   string
	OriginName  string
	Origin      models.Coord
	DestName    string
	Dest        models.Coord
	DepartureAt time.Time
	CapacityKg  float64
}

// Create schedules a new trip for the driver. The vehicle must exist and
// belong to the driver.
func (s *Service) Create(ctx context.Context, cmd CreateCommand, driverID string) (*models.Trip, error) {
	if cmd.CapacityKg <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrBadRequest)
	}
	if cmd.DepartureAt.IsZero() {
		return nil, fmt.Errorf("%w: departure time is required", ErrBadRequest)
	}
	v, err := s.Store.GetVehicle(ctx, cmd.VehicleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: vehicle not found", ErrBadRequest)
	}
	if err != nil {
		return nil, err
	}
	if v.DriverID != driverID {
		return nil, fmt.Errorf("%w: vehicle does not belong to you", ErrForbidden)
	}

	t := &models.Trip{
		ID:          uuid.NewString(),
		DriverID:    driverID,
		VehicleID:   v.ID,
		Status:      models.TripScheduled,
		OriginName:  cmd.OriginName,
		Origin:      cmd.Origin,
		DestName:    cmd.DestName,
		Dest:        cmd.Dest,
		DepartureAt: cmd.DepartureAt,
		CapacityKg:  cmd.CapacityKg,
		CreatedAt:   time.Now(),
	}
	if err := s.Store.CreateTrip(ctx, t); err != nil {
		return nil, err
	}
	if s.Geo != nil {
		s.Geo.Upsert(t.ID, t.Origin)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Trip, error) {
	return s.get(ctx, id)
}

func (s *Service) ListByDriver(ctx context.Context, driverID string) ([]*models.Trip, error) {
	return s.Store.ListDriverTrips(ctx, driverID)
}

// Update edits a trip's details. Only the owning driver, only while the
// trip is still SCHEDULED.
func (s *Service) Update(ctx context.Context, id, driverID string, cmd CreateCommand) (*models.Trip, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.DriverID != driverID {
		return nil, fmt.Errorf("%w: only the trip's driver can edit it", ErrForbidden)
	}
	if t.Status != models.TripScheduled {
		return nil, fmt.Errorf("%w: a %s trip cannot be edited", ErrBadRequest, t.Status)
	}
	if cmd.CapacityKg <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrBadRequest)
	}
	if cmd.VehicleID != "" && cmd.VehicleID != t.VehicleID {
		v, err := s.Store.GetVehicle(ctx, cmd.VehicleID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: vehicle not found", ErrBadRequest)
		}
		if err != nil {
			return nil, err
		}
		if v.DriverID != driverID {
			return nil, fmt.Errorf("%w: vehicle does not belong to you", ErrForbidden)
		}
		t.VehicleID = v.ID
	}

	t.OriginName, t.Origin = cmd.OriginName, cmd.Origin
	t.DestName, t.Dest = cmd.DestName, cmd.Dest
	t.DepartureAt = cmd.DepartureAt
	t.CapacityKg = cmd.CapacityKg

	ok, err := s.Store.UpdateTripDetails(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if s.Geo != nil {
		s.Geo.Upsert(t.ID, t.Origin)
	}
	return t, nil
}

// Start moves a SCHEDULED trip to ACTIVE and withdraws it from search.
func (s *Service) Start(ctx context.Context, id, driverID string) (*models.Trip, error) {
	return s.transition(ctx, id, driverID,
		[]models.TripStatus{models.TripScheduled}, models.TripActive, true)
}

// Complete moves an ACTIVE trip to COMPLETED.
func (s *Service) Complete(ctx context.Context, id, driverID string) (*models.Trip, error) {
	return s.transition(ctx, id, driverID,
		[]models.TripStatus{models.TripActive}, models.TripCompleted, false)
}

// Cancel is allowed from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, id, driverID string) (*models.Trip, error) {
	return s.transition(ctx, id, driverID,
		[]models.TripStatus{models.TripScheduled, models.TripActive}, models.TripCancelled, true)
}

// Delete removes a trip that never ran. ACTIVE and COMPLETED trips are
// permanent records.
func (s *Service) Delete(ctx context.Context, id, driverID string) error {
	t, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		return fmt.Errorf("%w: only the trip's driver can delete it", ErrForbidden)
	}
	if t.Status == models.TripActive || t.Status == models.TripCompleted {
		return fmt.Errorf("%w: a %s trip cannot be deleted", ErrBadRequest, t.Status)
	}
	ok, err := s.Store.DeleteTrip(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if s.Geo != nil {
		s.Geo.Remove(id)
	}
	return nil
}

// Search returns scheduled trips whose route is compatible with the
// customer's journey, annotated with match distances. Results keep
// candidate order; no ranking by detour is applied.
func (s *Service) Search(ctx context.Context, clientOrigin, clientDest models.Coord, toleranceKm float64) ([]match.TripMatch, error) {
	candidates, err := s.candidates(ctx, clientOrigin)
	if err != nil {
		return nil, err
	}
	scheduled := candidates[:0]
	for _, t := range candidates {
		if t.Status == models.TripScheduled {
			scheduled = append(scheduled, t)
		}
	}
	return s.Matcher.FilterCompatibleTrips(ctx, scheduled, clientOrigin, clientDest, toleranceKm), nil
}

func (s *Service) candidates(ctx context.Context, origin models.Coord) ([]*models.Trip, error) {
	if s.Geo == nil {
		return s.Store.ListScheduledTrips(ctx)
	}
	radius := s.SearchRadiusKm
	if radius <= 0 {
		radius = 100
	}
	limit := s.SearchLimit
	if limit <= 0 {
		limit = 50
	}
	ids := s.Geo.Nearby(origin, radius, limit)
	return s.Store.GetTrips(ctx, ids)
}

func (s *Service) transition(ctx context.Context, id, driverID string, from []models.TripStatus, to models.TripStatus, dropFromIndex bool) (*models.Trip, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.DriverID != driverID {
		return nil, fmt.Errorf("%w: only the trip's driver can change it", ErrForbidden)
	}
	allowed := false
	for _, f := range from {
		if t.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: trip is %s and cannot become %s", ErrBadRequest, t.Status, to)
	}
	ok, err := s.Store.UpdateTripStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if dropFromIndex && s.Geo != nil {
		s.Geo.Remove(id)
	}
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id string) (*models.Trip, error) {
	t, err := s.Store.GetTrip(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// RegisterVehicle records a driver's vehicle.
func (s *Service) RegisterVehicle(ctx context.Context, driverID, plate, model string, capacityKg float64) (*models.Vehicle, error) {
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrBadRequest)
	}
	if capacityKg <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrBadRequest)
	}
	v := &models.Vehicle{
		ID:         uuid.NewString(),
		DriverID:   driverID,
		Plate:      plate,
		Model:      model,
		CapacityKg: capacityKg,
	}
	if err := s.Store.CreateVehicle(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}
