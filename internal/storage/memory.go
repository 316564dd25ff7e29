package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/vai-no-pulo/internal/models"
)

// MemoryStore implements OrderStore and TripStore in memory with the same
// conditional-update semantics as the Postgres store. Used in tests and
// when no PG_DSN is configured.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	trips    map[string]*models.Trip
	vehicles map[string]*models.Vehicle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		trips:    make(map[string]*models.Trip),
		vehicles: make(map[string]*models.Vehicle),
	}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListCustomerOrders(ctx context.Context, customerID string) ([]*models.Order, error) {
	return m.listOrders(func(o *models.Order) bool {
		return o.CustomerID == customerID
	}), nil
}

func (m *MemoryStore) ListDriverOrders(ctx context.Context, driverID string) ([]*models.Order, error) {
	return m.listOrders(func(o *models.Order) bool {
		if o.AssignedTo(driverID) {
			return true
		}
		return o.Standalone() && (o.Status == models.OrderPending || o.Status == models.OrderAccepted)
	}), nil
}

func (m *MemoryStore) listOrders(keep func(*models.Order) bool) []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) HasOpenOrderForTrip(ctx context.Context, customerID, tripID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.CustomerID == customerID && o.TripID != nil && *o.TripID == tripID &&
			(o.Status == models.OrderPending || o.Status == models.OrderAccepted) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) AcceptOrder(ctx context.Context, id, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	if o.DriverID != nil && *o.DriverID != driverID {
		return false, nil
	}
	now := time.Now()
	d := driverID
	o.DriverID = &d
	o.Status = models.OrderAccepted
	o.AcceptedAt = &now
	return true, nil
}

func (m *MemoryStore) RejectOrder(ctx context.Context, id, driverID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	now := time.Now()
	d := driverID
	r := reason
	o.DriverID = &d
	o.Status = models.OrderRejected
	o.RejectedAt = &now
	o.RejectionReason = &r
	return true, nil
}

func (m *MemoryStore) CancelOrder(ctx context.Context, id string, by models.CancelActor, reason string, from []models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !statusIn(o.Status, from) {
		return false, nil
	}
	now := time.Now()
	r := reason
	b := by
	o.Status = models.OrderCancelled
	o.CancelledAt = &now
	o.CancellationReason = &r
	o.CancelledBy = &b
	return true, nil
}

func (m *MemoryStore) StartOrder(ctx context.Context, id, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderAccepted || !o.AssignedTo(driverID) {
		return false, nil
	}
	o.Status = models.OrderInProgress
	return true, nil
}

func (m *MemoryStore) CompleteOrder(ctx context.Context, id, driverID string, finalPrice int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderInProgress || !o.AssignedTo(driverID) {
		return false, nil
	}
	now := time.Now()
	fp := finalPrice
	o.Status = models.OrderCompleted
	o.FinalPrice = &fp
	o.CompletedAt = &now
	return true, nil
}

func (m *MemoryStore) ReopenOrder(ctx context.Context, id string, keepDriver bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || (o.Status != models.OrderCancelled && o.Status != models.OrderRejected) {
		return false, nil
	}
	o.Status = models.OrderPending
	if !keepDriver {
		o.DriverID = nil
	}
	o.RejectedAt = nil
	o.RejectionReason = nil
	o.CancelledAt = nil
	o.CancellationReason = nil
	o.CancelledBy = nil
	return true, nil
}

func (m *MemoryStore) SetOrderPaymentRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		r := ref
		o.PaymentRef = &r
	}
	return nil
}

func (m *MemoryStore) CountPendingOrders(ctx context.Context, userID string, role models.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if m.visibleForBadge(o, userID, role) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkOrdersRead(ctx context.Context, userID string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, o := range m.orders {
		if o.ReadAt != nil {
			continue
		}
		if role == models.RoleDriver {
			if o.AssignedTo(userID) || (o.Standalone() && o.DriverID == nil) {
				t := now
				o.ReadAt = &t
			}
		} else if o.CustomerID == userID {
			t := now
			o.ReadAt = &t
		}
	}
	return nil
}

func (m *MemoryStore) visibleForBadge(o *models.Order, userID string, role models.Role) bool {
	if o.Status != models.OrderPending || o.ReadAt != nil {
		return false
	}
	if role == models.RoleDriver {
		return o.AssignedTo(userID) || (o.Standalone() && o.DriverID == nil)
	}
	return o.CustomerID == userID
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTrips(ctx context.Context, ids []string) ([]*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trip
	for _, id := range ids {
		if t, ok := m.trips[id]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDriverTrips(ctx context.Context, driverID string) ([]*models.Trip, error) {
	return m.listTrips(func(t *models.Trip) bool { return t.DriverID == driverID }), nil
}

func (m *MemoryStore) ListScheduledTrips(ctx context.Context) ([]*models.Trip, error) {
	return m.listTrips(func(t *models.Trip) bool { return t.Status == models.TripScheduled }), nil
}

func (m *MemoryStore) listTrips(keep func(*models.Trip) bool) []*models.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trip
	for _, t := range m.trips {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out
}

func (m *MemoryStore) UpdateTripDetails(ctx context.Context, t *models.Trip) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trips[t.ID]
	if !ok || cur.Status != models.TripScheduled {
		return false, nil
	}
	cur.OriginName, cur.Origin = t.OriginName, t.Origin
	cur.DestName, cur.Dest = t.DestName, t.Dest
	cur.DepartureAt = t.DepartureAt
	cur.CapacityKg = t.CapacityKg
	cur.VehicleID = t.VehicleID
	return true, nil
}

func (m *MemoryStore) UpdateTripStatus(ctx context.Context, id string, from []models.TripStatus, to models.TripStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) DeleteTrip(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status == models.TripActive || t.Status == models.TripCompleted {
		return false, nil
	}
	delete(m.trips, id)
	return true, nil
}

func (m *MemoryStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func statusIn(s models.OrderStatus, list []models.OrderStatus) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}
