package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/vai-no-pulo/internal/match"
	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/notify"
	"github.com/example/vai-no-pulo/internal/observability"
	"github.com/example/vai-no-pulo/internal/payments"
	"github.com/example/vai-no-pulo/internal/routing"
	"github.com/example/vai-no-pulo/internal/storage"
)

// Business-rule failures, surfaced verbatim to the caller. Specific
// reasons are wrapped around these sentinels with %w.
var (
	ErrNotFound   = errors.New("order not found")
	ErrForbidden  = errors.New("not allowed")
	ErrBadRequest = errors.New("invalid request")
	ErrConflict   = errors.New("order was modified concurrently, try again")
)

// Service owns the order state machine:
//
//	PENDING --accept--> ACCEPTED --start--> IN_PROGRESS --complete--> COMPLETED
//	PENDING --reject--> REJECTED
//	PENDING|ACCEPTED... --cancel--> CANCELLED
//	CANCELLED|REJECTED --reopen--> PENDING
//
// Every transition is a conditional update at the store; business errors
// propagate to the caller, collaborator failures (events, payments,
// routing) are logged and never fail the transition.
type Service struct {
	Store    storage.OrderStore
	Trips    storage.TripStore
	Routes   routing.Provider // optional; straight-line pricing fallback without it
	Events   notify.Publisher // optional
	Payments payments.Client  // optional
	Logger   *slog.Logger

	BaseFareCents   int64
	PricePerKmCents int64
}

type CreateCommand struct {
	TripID          *string
	ItemDescription string
	WeightKg        float64
	OriginName      string
	Origin          models.Coord
	DestName        string
	Dest            models.Coord
}

// Create registers a new order for the customer. With a TripID the order
// binds to that trip and inherits its driver and geography; without one
// it is standalone and open to any driver. Creation itself emits no
// notification — those start with the first transition.
func (s *Service) Create(ctx context.Context, cmd CreateCommand, customerID string) (*models.Order, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: missing customer", ErrBadRequest)
	}
	if cmd.WeightKg <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", ErrBadRequest)
	}

	o := &models.Order{
		ID:              uuid.NewString(),
		CustomerID:      customerID,
		Status:          models.OrderPending,
		ItemDescription: cmd.ItemDescription,
		WeightKg:        cmd.WeightKg,
		OriginName:      cmd.OriginName,
		Origin:          cmd.Origin,
		DestName:        cmd.DestName,
		Dest:            cmd.Dest,
		CreatedAt:       time.Now(),
	}

	if cmd.TripID != nil {
		trip, err := s.Trips.GetTrip(ctx, *cmd.TripID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: trip not found", ErrBadRequest)
		}
		if err != nil {
			return nil, err
		}
		if trip.DriverID == customerID {
			return nil, fmt.Errorf("%w: you cannot create an order on your own trip", ErrBadRequest)
		}
		if trip.Status != models.TripScheduled {
			return nil, fmt.Errorf("%w: trip is no longer accepting orders", ErrBadRequest)
		}
		if cmd.WeightKg > trip.CapacityKg {
			return nil, fmt.Errorf("%w: item exceeds the trip's capacity", ErrBadRequest)
		}
		open, err := s.Store.HasOpenOrderForTrip(ctx, customerID, trip.ID)
		if err != nil {
			return nil, err
		}
		if open {
			return nil, fmt.Errorf("%w: you already have an open order for this trip", ErrBadRequest)
		}
		// Trip-bound orders carry the trip's driver from creation and
		// derive their geography from the trip.
		o.TripID = &trip.ID
		d := trip.DriverID
		o.DriverID = &d
		o.OriginName, o.Origin = trip.OriginName, trip.Origin
		o.DestName, o.Dest = trip.DestName, trip.Dest
	}

	o.EstimatedPrice = s.estimatePrice(ctx, o.Origin, o.Dest)

	if err := s.Store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderPending)).Inc()
	return o, nil
}

// Accept claims a PENDING order for the driver. Trip-bound orders accept
// only their trip's driver. Standalone orders take accepts from any
// driver while PENDING or ACCEPTED: the first one wins the driver slot,
// later ones succeed with isFirstAcceptance=false and change nothing —
// they merely signal interest to the customer.
func (s *Service) Accept(ctx context.Context, orderID, driverID string) (*models.Order, bool, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	if !o.Standalone() {
		if !o.AssignedTo(driverID) {
			return nil, false, fmt.Errorf("%w: only the trip's driver can accept this order", ErrForbidden)
		}
		if o.Status != models.OrderPending {
			return nil, false, fmt.Errorf("%w: order is %s, not pending", ErrBadRequest, o.Status)
		}
	} else {
		switch o.Status {
		case models.OrderPending:
			// A reopened customer-cancelled order keeps its previous driver;
			// while PENDING with a held slot, only that driver may accept.
			if o.DriverID != nil && !o.AssignedTo(driverID) {
				return nil, false, fmt.Errorf("%w: order is reserved for its previous driver", ErrBadRequest)
			}
		case models.OrderAccepted:
			if o.AssignedTo(driverID) {
				return o, false, fmt.Errorf("%w: you already accepted this order", ErrBadRequest)
			}
			return o, false, nil
		default:
			return nil, false, fmt.Errorf("%w: order is %s and no longer open to drivers", ErrBadRequest, o.Status)
		}
	}

	ok, err := s.Store.AcceptOrder(ctx, orderID, driverID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Lost the race. For a standalone order another driver claimed it
		// first: the accept still counts as an expression of interest.
		observability.OrderConflictsTotal.Inc()
		o, err = s.get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		if o.Standalone() && o.Status == models.OrderAccepted && !o.AssignedTo(driverID) {
			return o, false, nil
		}
		if o.Standalone() && o.Status == models.OrderPending && o.DriverID != nil && !o.AssignedTo(driverID) {
			return nil, false, fmt.Errorf("%w: order is reserved for its previous driver", ErrBadRequest)
		}
		return nil, false, ErrConflict
	}

	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderAccepted)).Inc()
	s.holdPayment(ctx, o)
	s.emit(ctx, notify.EventOrderAccepted, o, o.CustomerID, "A driver accepted your order")
	return o, true, nil
}

// Reject declines a PENDING order. Allowed for the assigned driver, the
// trip's driver when trip-bound, or any driver when the order is
// standalone and unassigned. The rejecting driver is recorded on the
// order so the customer knows who declined.
func (s *Service) Reject(ctx context.Context, orderID, driverID string, role models.Role, reason string) (*models.Order, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", ErrBadRequest)
	}
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeReject(ctx, o, driverID, role); err != nil {
		return nil, err
	}
	if o.Status != models.OrderPending {
		return nil, fmt.Errorf("%w: only pending orders can be rejected", ErrBadRequest)
	}

	ok, err := s.Store.RejectOrder(ctx, orderID, driverID, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.OrderConflictsTotal.Inc()
		return nil, ErrConflict
	}

	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderRejected)).Inc()
	s.emit(ctx, notify.EventOrderRejected, o, o.CustomerID, "Your order was declined: "+reason)
	return o, nil
}

func (s *Service) authorizeReject(ctx context.Context, o *models.Order, driverID string, role models.Role) error {
	if o.AssignedTo(driverID) {
		return nil
	}
	if !o.Standalone() && o.DriverID == nil {
		trip, err := s.Trips.GetTrip(ctx, *o.TripID)
		if err == nil && trip.DriverID == driverID {
			return nil
		}
	}
	if o.Standalone() && o.DriverID == nil && role == models.RoleDriver {
		return nil
	}
	return fmt.Errorf("%w: you cannot reject this order", ErrForbidden)
}

// Cancel withdraws the order. The customer may cancel from any state
// except COMPLETED and CANCELLED; the assigned driver only while the
// order is still PENDING or ACCEPTED.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (*models.Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var by models.CancelActor
	var from []models.OrderStatus
	var recipient string
	switch {
	case o.CustomerID == userID:
		by = models.CancelledByCustomer
		from = []models.OrderStatus{models.OrderPending, models.OrderAccepted, models.OrderInProgress, models.OrderRejected}
		if o.DriverID != nil {
			recipient = *o.DriverID
		}
	case o.AssignedTo(userID):
		by = models.CancelledByDriver
		from = []models.OrderStatus{models.OrderPending, models.OrderAccepted}
		recipient = o.CustomerID
	default:
		return nil, fmt.Errorf("%w: only the customer or the assigned driver can cancel", ErrForbidden)
	}

	if !statusIn(o.Status, from) {
		return nil, fmt.Errorf("%w: this order cannot be cancelled while %s", ErrBadRequest, o.Status)
	}
	if reason == "" {
		reason = "cancelled by " + string(by)
	}

	ok, err := s.Store.CancelOrder(ctx, orderID, by, reason, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.OrderConflictsTotal.Inc()
		return nil, ErrConflict
	}

	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderCancelled)).Inc()
	s.releasePayment(ctx, o)
	if recipient != "" {
		s.emit(ctx, notify.EventOrderCancelled, o, recipient, "The order was cancelled: "+reason)
	}
	return o, nil
}

// StartProgress moves an ACCEPTED order to IN_PROGRESS. Assigned driver only.
func (s *Service) StartProgress(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.AssignedTo(driverID) {
		return nil, fmt.Errorf("%w: only the assigned driver can start this order", ErrForbidden)
	}
	if o.Status != models.OrderAccepted {
		return nil, fmt.Errorf("%w: order must be accepted before starting, currently %s", ErrBadRequest, o.Status)
	}

	ok, err := s.Store.StartOrder(ctx, orderID, driverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.OrderConflictsTotal.Inc()
		return nil, ErrConflict
	}

	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderInProgress)).Inc()
	s.emit(ctx, notify.EventOrderStarted, o, o.CustomerID, "Your item is on the way")
	return o, nil
}

// Complete finishes an IN_PROGRESS order. finalPrice defaults to the
// estimated price when nil.
func (s *Service) Complete(ctx context.Context, orderID, driverID string, finalPrice *int64) (*models.Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.AssignedTo(driverID) {
		return nil, fmt.Errorf("%w: only the assigned driver can complete this order", ErrForbidden)
	}
	if o.Status != models.OrderInProgress {
		return nil, fmt.Errorf("%w: order must be in progress to complete, currently %s", ErrBadRequest, o.Status)
	}
	fp := o.EstimatedPrice
	if finalPrice != nil {
		if *finalPrice < 0 {
			return nil, fmt.Errorf("%w: final price cannot be negative", ErrBadRequest)
		}
		fp = *finalPrice
	}

	ok, err := s.Store.CompleteOrder(ctx, orderID, driverID, fp)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.OrderConflictsTotal.Inc()
		return nil, ErrConflict
	}

	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderCompleted)).Inc()
	s.capturePayment(ctx, o, fp)
	s.emit(ctx, notify.EventOrderCompleted, o, o.CustomerID, "Your order was delivered")
	return o, nil
}

// Reopen puts a CANCELLED or REJECTED order back to PENDING. Customer
// only. A customer-initiated cancellation keeps the previous driver (the
// relationship survives); a driver-initiated cancellation or a rejection
// clears the slot so any driver can pick the order up again.
func (s *Service) Reopen(ctx context.Context, orderID, customerID string) (*models.Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, fmt.Errorf("%w: only the order's customer can reopen it", ErrForbidden)
	}
	if o.Status != models.OrderCancelled && o.Status != models.OrderRejected {
		return nil, fmt.Errorf("%w: only cancelled or rejected orders can be reopened", ErrBadRequest)
	}

	keepDriver := o.Status == models.OrderCancelled &&
		o.CancelledBy != nil && *o.CancelledBy == models.CancelledByCustomer

	ok, err := s.Store.ReopenOrder(ctx, orderID, keepDriver)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.OrderConflictsTotal.Inc()
		return nil, ErrConflict
	}

	prevDriver := o.DriverID
	o, err = s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(models.OrderPending)).Inc()
	if keepDriver && prevDriver != nil {
		s.emit(ctx, notify.EventOrderReopened, o, *prevDriver, "The customer reopened the order")
	}
	return o, nil
}

// FindMyOrders lists the orders visible to the user: customers see their
// own, drivers see assigned orders plus every standalone order still
// open to interest.
func (s *Service) FindMyOrders(ctx context.Context, userID string, role models.Role) ([]*models.Order, error) {
	if role == models.RoleDriver {
		return s.Store.ListDriverOrders(ctx, userID)
	}
	return s.Store.ListCustomerOrders(ctx, userID)
}

// FindOne returns a single order if the caller may see it: the owning
// customer, the assigned driver, or any driver while the order is
// standalone and PENDING.
func (s *Service) FindOne(ctx context.Context, orderID, userID string, role models.Role) (*models.Order, error) {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.CustomerID == userID:
	case o.AssignedTo(userID):
	case role == models.RoleDriver && o.Standalone() && o.Status == models.OrderPending:
	default:
		return nil, fmt.Errorf("%w: you cannot view this order", ErrForbidden)
	}
	return o, nil
}

// CountPending returns the unread pending-order count for the badge.
func (s *Service) CountPending(ctx context.Context, userID string, role models.Role) (int, error) {
	return s.Store.CountPendingOrders(ctx, userID, role)
}

// MarkAsRead clears the badge for the user.
func (s *Service) MarkAsRead(ctx context.Context, userID string, role models.Role) error {
	return s.Store.MarkOrdersRead(ctx, userID, role)
}

func (s *Service) get(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// estimatePrice computes base fare plus a per-km rate over the road
// distance. When the routing provider is unavailable a straight-line
// estimate is substituted.
func (s *Service) estimatePrice(ctx context.Context, origin, dest models.Coord) int64 {
	var distKm float64
	var err error
	if s.Routes != nil {
		distKm, err = s.Routes.DistanceKm(ctx, origin, dest)
	}
	if s.Routes == nil || err != nil {
		if err != nil {
			s.log().Warn("routing provider unavailable for pricing, using straight-line distance", "error", err)
		}
		distKm = match.HaversineKm(origin.Lat, origin.Lng, dest.Lat, dest.Lng)
	}
	return s.BaseFareCents + int64(math.Round(distKm*float64(s.PricePerKmCents)))
}

// emit publishes an order event to the stream. Infrastructure failures
// are logged and swallowed: a dropped notification never fails the
// transition that produced it.
func (s *Service) emit(ctx context.Context, evType string, o *models.Order, recipientID, message string) {
	if s.Events == nil {
		return
	}
	ev := notify.OrderEvent{
		Type:        evType,
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		RecipientID: recipientID,
		Status:      o.Status,
		Message:     message,
		At:          time.Now(),
	}
	if o.DriverID != nil {
		ev.DriverID = *o.DriverID
	}
	if err := s.Events.PublishOrderEvent(ctx, ev); err != nil {
		observability.NotifyDroppedTotal.Inc()
		s.log().Warn("order event publish failed", "order_id", o.ID, "type", evType, "error", err)
		return
	}
	observability.NotifyPublishedTotal.Inc()
}

func (s *Service) holdPayment(ctx context.Context, o *models.Order) {
	if s.Payments == nil {
		return
	}
	ref, err := s.Payments.Hold(ctx, o.ID, o.EstimatedPrice, o.CustomerID)
	if err != nil {
		s.log().Warn("payment hold failed", "order_id", o.ID, "error", err)
		return
	}
	if err := s.Store.SetOrderPaymentRef(ctx, o.ID, ref); err != nil {
		s.log().Warn("storing payment ref failed", "order_id", o.ID, "error", err)
	}
}

func (s *Service) capturePayment(ctx context.Context, o *models.Order, amount int64) {
	if s.Payments == nil || o.PaymentRef == nil {
		return
	}
	if err := s.Payments.Capture(ctx, *o.PaymentRef, amount); err != nil {
		s.log().Warn("payment capture failed", "order_id", o.ID, "error", err)
	}
}

func (s *Service) releasePayment(ctx context.Context, o *models.Order) {
	if s.Payments == nil || o.PaymentRef == nil {
		return
	}
	if err := s.Payments.Release(ctx, *o.PaymentRef); err != nil {
		s.log().Warn("payment release failed", "order_id", o.ID, "error", err)
	}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func statusIn(s models.OrderStatus, list []models.OrderStatus) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}
