package storage

import (
	"context"
	"errors"

	"github.com/example/vai-no-pulo/internal/models"
)

// ErrNotFound is returned by keyed lookups when the row does not exist.
var ErrNotFound = errors.New("not found")

// OrderStore defines persistence for orders. Every transition method is a
// conditional single-row update guarded on the current status (and on the
// driver slot for Accept): the boolean result is false when zero rows were
// affected, which signals a lost race or a stale state to the caller.
// A naive read-then-write here would let two drivers claim the same order.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)

	// ListCustomerOrders returns all orders created by the customer.
	ListCustomerOrders(ctx context.Context, customerID string) ([]*models.Order, error)
	// ListDriverOrders returns orders assigned to the driver plus every
	// standalone order still open to interest (PENDING or ACCEPTED).
	ListDriverOrders(ctx context.Context, driverID string) ([]*models.Order, error)

	// HasOpenOrderForTrip reports whether the customer already has a
	// PENDING or ACCEPTED order against the trip.
	HasOpenOrderForTrip(ctx context.Context, customerID, tripID string) (bool, error)

	// AcceptOrder claims the order for driverID. The guard admits a
	// PENDING order whose driver slot is empty (standalone claim) or
	// already holds driverID (trip-bound accept).
	AcceptOrder(ctx context.Context, id, driverID string) (bool, error)
	// RejectOrder records the rejecting driver and reason, from PENDING only.
	RejectOrder(ctx context.Context, id, driverID, reason string) (bool, error)
	// CancelOrder cancels from any status in from.
	CancelOrder(ctx context.Context, id string, by models.CancelActor, reason string, from []models.OrderStatus) (bool, error)
	// StartOrder moves ACCEPTED to IN_PROGRESS for the assigned driver.
	StartOrder(ctx context.Context, id, driverID string) (bool, error)
	// CompleteOrder moves IN_PROGRESS to COMPLETED and sets the final price.
	CompleteOrder(ctx context.Context, id, driverID string, finalPrice int64) (bool, error)
	// ReopenOrder resets a CANCELLED or REJECTED order to PENDING, clearing
	// all cancellation/rejection audit fields. The driver slot is kept only
	// when keepDriver is true.
	ReopenOrder(ctx context.Context, id string, keepDriver bool) (bool, error)

	// SetOrderPaymentRef records the payment provider's hold reference.
	SetOrderPaymentRef(ctx context.Context, id, ref string) error

	// CountPendingOrders counts unread PENDING orders visible to the user.
	CountPendingOrders(ctx context.Context, userID string, role models.Role) (int, error)
	// MarkOrdersRead stamps read_at on the same set CountPendingOrders counts.
	MarkOrdersRead(ctx context.Context, userID string, role models.Role) error
}

// TripStore defines persistence for trips and vehicles.
type TripStore interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	GetTrips(ctx context.Context, ids []string) ([]*models.Trip, error)
	ListDriverTrips(ctx context.Context, driverID string) ([]*models.Trip, error)
	ListScheduledTrips(ctx context.Context) ([]*models.Trip, error)

	// UpdateTripDetails rewrites the editable fields while the trip is
	// still SCHEDULED; false means the trip had already left that state.
	UpdateTripDetails(ctx context.Context, t *models.Trip) (bool, error)
	// UpdateTripStatus transitions the trip from any status in from.
	UpdateTripStatus(ctx context.Context, id string, from []models.TripStatus, to models.TripStatus) (bool, error)
	// DeleteTrip removes the trip unless it is ACTIVE or COMPLETED.
	DeleteTrip(ctx context.Context, id string) (bool, error)

	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
}
