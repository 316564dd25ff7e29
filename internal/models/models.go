package models

import "time"

// Coord is a geographic point. Routing providers speak GeoJSON (lng,lat);
// everything inside this codebase is lat/lng.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role of an authenticated caller, as resolved by the identity layer.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleDriver   Role = "DRIVER"
)

// OrderStatus and TripStatus are deliberately distinct types: the two
// lifecycles share some names but must never be cross-assigned.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderAccepted   OrderStatus = "ACCEPTED"
	OrderRejected   OrderStatus = "REJECTED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
)

type TripStatus string

const (
	TripScheduled TripStatus = "SCHEDULED"
	TripActive    TripStatus = "ACTIVE"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

// CancelActor records which side of the marketplace cancelled an order.
type CancelActor string

const (
	CancelledByCustomer CancelActor = "customer"
	CancelledByDriver   CancelActor = "driver"
)

// Order is a request to transport an item. TripID nil means standalone:
// the order is open to any driver and carries its own origin/destination.
// Trip-bound orders inherit driver and geography from the trip.
type Order struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	DriverID   *string `json:"driver_id,omitempty"`
	TripID     *string `json:"trip_id,omitempty"`

	Status OrderStatus `json:"status"`

	ItemDescription string  `json:"item_description"`
	WeightKg        float64 `json:"weight_kg"`

	EstimatedPrice int64  `json:"estimated_price"`
	FinalPrice     *int64 `json:"final_price,omitempty"`

	// PaymentRef is the payment provider's hold reference, set after the
	// first acceptance places a hold for the estimated price.
	PaymentRef *string `json:"payment_ref,omitempty"`

	OriginName string `json:"origin_name,omitempty"`
	Origin     Coord  `json:"origin"`
	DestName   string `json:"dest_name,omitempty"`
	Dest       Coord  `json:"dest"`

	CreatedAt          time.Time    `json:"created_at"`
	AcceptedAt         *time.Time   `json:"accepted_at,omitempty"`
	RejectedAt         *time.Time   `json:"rejected_at,omitempty"`
	RejectionReason    *string      `json:"rejection_reason,omitempty"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
	CancellationReason *string      `json:"cancellation_reason,omitempty"`
	CancelledBy        *CancelActor `json:"cancelled_by,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	ReadAt             *time.Time   `json:"read_at,omitempty"`
}

// Standalone reports whether the order is open to any driver.
func (o *Order) Standalone() bool { return o.TripID == nil }

// AssignedTo reports whether driverID currently holds the order.
func (o *Order) AssignedTo(driverID string) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// Trip is a scheduled journey offered by a driver with one vehicle.
type Trip struct {
	ID        string `json:"id"`
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`

	Status TripStatus `json:"status"`

	OriginName string `json:"origin_name"`
	Origin     Coord  `json:"origin"`
	DestName   string `json:"dest_name"`
	Dest       Coord  `json:"dest"`

	DepartureAt time.Time `json:"departure_at"`
	CapacityKg  float64   `json:"capacity_kg"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the trip can no longer change.
func (t *Trip) Terminal() bool {
	return t.Status == TripCompleted || t.Status == TripCancelled
}

// Vehicle is the minimal vehicle record needed to validate trip creation.
type Vehicle struct {
	ID         string  `json:"id"`
	DriverID   string  `json:"driver_id"`
	Plate      string  `json:"plate"`
	Model      string  `json:"model"`
	CapacityKg float64 `json:"capacity_kg"`
}
