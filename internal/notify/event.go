package notify

import (
	"time"

	"github.com/example/vai-no-pulo/internal/models"
)

// Event types, one per order lifecycle transition. Creation emits no
// event: notifications start with the first transition.
const (
	EventOrderAccepted  = "order.accepted"
	EventOrderRejected  = "order.rejected"
	EventOrderCancelled = "order.cancelled"
	EventOrderStarted   = "order.started"
	EventOrderCompleted = "order.completed"
	EventOrderReopened  = "order.reopened"
)

// OrderEvent is emitted after a successful order transition and consumed
// asynchronously by the notifier worker. Delivery is best-effort: a lost
// event never rolls back the transition that produced it.
type OrderEvent struct {
	Type        string             `json:"type"`
	OrderID     string             `json:"order_id"`
	CustomerID  string             `json:"customer_id"`
	DriverID    string             `json:"driver_id,omitempty"`
	RecipientID string             `json:"recipient_id"`
	Status      models.OrderStatus `json:"status"`
	Message     string             `json:"message"`
	At          time.Time          `json:"at"`
}
