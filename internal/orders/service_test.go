package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/notify"
	"github.com/example/vai-no-pulo/internal/storage"
)

// capturingPublisher records emitted events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []notify.OrderEvent
}

func (c *capturingPublisher) PublishOrderEvent(ctx context.Context, ev notify.OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturingPublisher) Close() error { return nil }

func (c *capturingPublisher) last() (notify.OrderEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return notify.OrderEvent{}, false
	}
	return c.events[len(c.events)-1], true
}

func newTestService() (*Service, *storage.MemoryStore, *capturingPublisher) {
	store := storage.NewMemoryStore()
	pub := &capturingPublisher{}
	svc := &Service{
		Store:           store,
		Trips:           store,
		Events:          pub,
		BaseFareCents:   500,
		PricePerKmCents: 120,
	}
	return svc, store, pub
}

func standaloneOrder(t *testing.T, svc *Service, customerID string) *models.Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		ItemDescription: "a box",
		WeightKg:        5,
		OriginName:      "Centro",
		Origin:          models.Coord{Lat: -23.55, Lng: -46.63},
		DestName:        "Santos",
		Dest:            models.Coord{Lat: -23.96, Lng: -46.33},
	}, customerID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func scheduledTrip(t *testing.T, store *storage.MemoryStore, driverID string, capacityKg float64) *models.Trip {
	t.Helper()
	trip := &models.Trip{
		ID:          "trip-" + driverID,
		DriverID:    driverID,
		VehicleID:   "v1",
		Status:      models.TripScheduled,
		Origin:      models.Coord{Lat: -23.55, Lng: -46.63},
		Dest:        models.Coord{Lat: -22.91, Lng: -43.17},
		DepartureAt: time.Now().Add(24 * time.Hour),
		CapacityKg:  capacityKg,
		CreatedAt:   time.Now(),
	}
	if err := store.CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func TestCreateStandaloneOrder(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if o.Status != models.OrderPending {
		t.Fatalf("new orders must be PENDING, got %s", o.Status)
	}
	if o.DriverID != nil {
		t.Fatal("standalone orders start unassigned")
	}
	if o.FinalPrice != nil {
		t.Fatal("final price must stay unset until completion")
	}
	if o.EstimatedPrice <= svc.BaseFareCents {
		t.Fatalf("estimate should include distance, got %d", o.EstimatedPrice)
	}
}

func TestCreateRejectsNonPositiveWeight(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateCommand{WeightKg: 0}, "c1")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestCreateTripBoundOrder(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 50)

	o, err := svc.Create(context.Background(), CreateCommand{
		TripID:   &trip.ID,
		WeightKg: 10,
		// geography comes from the trip, not the request
		Origin: models.Coord{Lat: 1, Lng: 1},
		Dest:   models.Coord{Lat: 2, Lng: 2},
	}, "c1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.DriverID == nil || *o.DriverID != "d1" {
		t.Fatal("trip-bound orders carry the trip's driver from creation")
	}
	if o.Origin != trip.Origin || o.Dest != trip.Dest {
		t.Fatal("trip-bound orders derive geography from the trip")
	}
}

func TestCreateOnOwnTripRejected(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 50)
	_, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 1}, "d1")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for own trip, got %v", err)
	}
}

func TestCreateOverCapacityRejected(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 10)
	_, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 11}, "c1")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request over capacity, got %v", err)
	}
}

func TestCreateDuplicateOpenOrderForTripRejected(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 50)
	if _, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 1}, "c1"); err != nil {
		t.Fatalf("first order: %v", err)
	}
	_, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 1}, "c1")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected duplicate guard, got %v", err)
	}
}

func TestAcceptStandaloneFirstWins(t *testing.T) {
	svc, _, pub := newTestService()
	o := standaloneOrder(t, svc, "c1")

	got, first, err := svc.Accept(context.Background(), o.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !first {
		t.Fatal("first accept must win the driver slot")
	}
	if got.Status != models.OrderAccepted || got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatalf("unexpected state after accept: %+v", got)
	}
	if ev, ok := pub.last(); !ok || ev.Type != notify.EventOrderAccepted || ev.RecipientID != "c1" {
		t.Fatalf("customer should be notified of the acceptance, got %+v", ev)
	}

	// A second driver's accept records interest without changing the order.
	got2, first2, err := svc.Accept(context.Background(), o.ID, "d2")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if first2 {
		t.Fatal("a later accept must not be the first acceptance")
	}
	if *got2.DriverID != "d1" {
		t.Fatal("a later accept must not steal the driver slot")
	}
}

func TestAcceptOwnOrderTwiceRejected(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, _, err := svc.Accept(context.Background(), o.ID, "d1")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("re-accepting your own order is an error, got %v", err)
	}
}

func TestAcceptTripBoundOnlyByTripDriver(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 50)
	o, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 1}, "c1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Accept(context.Background(), o.ID, "d2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for a foreign driver, got %v", err)
	}
	if _, first, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil || !first {
		t.Fatalf("the trip's driver must be able to accept: first=%v err=%v", first, err)
	}
}

func TestConcurrentAcceptsExactlyOneFirst(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")

	const drivers = 8
	var wg sync.WaitGroup
	firsts := make(chan bool, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			_, first, err := svc.Accept(context.Background(), o.ID, "driver-"+id)
			if err != nil {
				return
			}
			firsts <- first
		}(i)
	}
	wg.Wait()
	close(firsts)

	won := 0
	for f := range firsts {
		if f {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("exactly one driver must win the race, got %d", won)
	}
}

func TestRejectRequiresReasonAndPendingState(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")

	if _, err := svc.Reject(context.Background(), o.ID, "d1", models.RoleDriver, ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("a reason is required, got %v", err)
	}

	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Reject(context.Background(), o.ID, "d1", models.RoleDriver, "too heavy"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("only pending orders can be rejected, got %v", err)
	}
}

func TestRejectRecordsDriverAndReason(t *testing.T) {
	svc, _, pub := newTestService()
	o := standaloneOrder(t, svc, "c1")

	got, err := svc.Reject(context.Background(), o.ID, "d1", models.RoleDriver, "too far")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != models.OrderRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}
	if got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatal("the rejecting driver must be recorded")
	}
	if got.RejectionReason == nil || *got.RejectionReason != "too far" {
		t.Fatal("the reason must be recorded")
	}
	if ev, ok := pub.last(); !ok || ev.Type != notify.EventOrderRejected {
		t.Fatalf("customer should be notified of the rejection, got %+v", ev)
	}
}

func TestCancelPermissions(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), o.ID, "stranger", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("strangers cannot cancel, got %v", err)
	}

	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// A driver cannot abandon a delivery already underway.
	if _, err := svc.Cancel(context.Background(), o.ID, "d1", ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("driver cancel of an in-progress order must fail, got %v", err)
	}
	// The customer still can.
	got, err := svc.Cancel(context.Background(), o.ID, "c1", "changed my mind")
	if err != nil {
		t.Fatalf("customer cancel: %v", err)
	}
	if got.Status != models.OrderCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if got.CancelledBy == nil || *got.CancelledBy != models.CancelledByCustomer {
		t.Fatal("the cancelling side must be recorded")
	}
}

func TestCancelDefaultsReason(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	got, err := svc.Cancel(context.Background(), o.ID, "c1", "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.CancellationReason == nil || *got.CancellationReason == "" {
		t.Fatal("a default reason must be recorded")
	}
}

func TestCompleteSetsFinalPrice(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	fp := int64(6000)
	got, err := svc.Complete(context.Background(), o.ID, "d1", &fp)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.OrderCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.FinalPrice == nil || *got.FinalPrice != 6000 {
		t.Fatalf("expected final price 6000, got %v", got.FinalPrice)
	}
}

func TestCompleteDefaultsToEstimate(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := svc.Complete(context.Background(), o.ID, "d1", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.FinalPrice == nil || *got.FinalPrice != o.EstimatedPrice {
		t.Fatalf("final price should default to the estimate %d, got %v", o.EstimatedPrice, got.FinalPrice)
	}
}

func TestCompleteRejectsNegativePrice(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	bad := int64(-1)
	if _, err := svc.Complete(context.Background(), o.ID, "d1", &bad); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for a negative price, got %v", err)
	}
}

func TestStartRequiresAcceptedState(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("an unassigned driver cannot start, got %v", err)
	}
}

func TestReopenAfterCustomerCancelKeepsDriver(t *testing.T) {
	svc, _, pub := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), o.ID, "c1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := svc.Reopen(context.Background(), o.ID, "c1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.Status != models.OrderPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatal("a customer-cancelled order keeps its driver on reopen")
	}
	if got.CancelledAt != nil || got.CancelledBy != nil || got.CancellationReason != nil {
		t.Fatal("reopen must clear the cancellation audit fields")
	}
	if ev, ok := pub.last(); !ok || ev.Type != notify.EventOrderReopened || ev.RecipientID != "d1" {
		t.Fatalf("the retained driver should be told about the reopen, got %+v", ev)
	}
}

func TestReopenedOrderWithRetainedDriverRejectsOtherAccepts(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), o.ID, "c1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Reopen(context.Background(), o.ID, "c1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	// The slot is held for d1; another driver gets a state error, not a
	// conflict.
	_, _, err := svc.Accept(context.Background(), o.ID, "d2")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for a reserved order, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("a reserved slot is not a concurrency conflict")
	}

	// The retained driver can take it back.
	got, first, err := svc.Accept(context.Background(), o.ID, "d1")
	if err != nil || !first {
		t.Fatalf("retained driver must be able to re-accept: first=%v err=%v", first, err)
	}
	if got.Status != models.OrderAccepted {
		t.Fatalf("expected ACCEPTED, got %s", got.Status)
	}
}

func TestReopenAfterDriverCancelClearsDriver(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), o.ID, "d1", "no time"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := svc.Reopen(context.Background(), o.ID, "c1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.DriverID != nil {
		t.Fatal("a driver-cancelled order reopens without a driver")
	}
}

func TestReopenAfterRejectionClearsDriver(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	if _, err := svc.Reject(context.Background(), o.ID, "d1", models.RoleDriver, "too far"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	got, err := svc.Reopen(context.Background(), o.ID, "c1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.DriverID != nil {
		t.Fatal("a rejected order reopens without a driver")
	}
	if got.RejectedAt != nil || got.RejectionReason != nil {
		t.Fatal("reopen must clear the rejection audit fields")
	}
}

func TestReopenOnlyByCustomerAndOnlyFromTerminalish(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")

	if _, err := svc.Reopen(context.Background(), o.ID, "d1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only the customer can reopen, got %v", err)
	}
	if _, err := svc.Reopen(context.Background(), o.ID, "c1"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("a pending order cannot be reopened, got %v", err)
	}
}

func TestTripBoundRejectThenReopen(t *testing.T) {
	svc, store, _ := newTestService()
	trip := scheduledTrip(t, store, "d1", 50)
	o, err := svc.Create(context.Background(), CreateCommand{TripID: &trip.ID, WeightKg: 5}, "c1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Reject(context.Background(), o.ID, "d1", models.RoleDriver, "no capacity")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != models.OrderRejected || got.RejectionReason == nil || *got.RejectionReason != "no capacity" {
		t.Fatalf("unexpected rejection state: %+v", got)
	}
	if got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatal("the rejecting driver must stay recorded")
	}

	got, err = svc.Reopen(context.Background(), o.ID, "c1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.Status != models.OrderPending || got.DriverID != nil {
		t.Fatalf("rejection must clear the driver on reopen: %+v", got)
	}
}

func TestAcceptedAtSetOnceNeverOverwritten(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")
	first, _, err := svc.Accept(context.Background(), o.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	second, _, err := svc.Accept(context.Background(), o.ID, "d2")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if second.AcceptedAt == nil || !second.AcceptedAt.Equal(*first.AcceptedAt) {
		t.Fatal("a later accept must not touch acceptedAt")
	}
}

func TestFindOneVisibility(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")

	// Any driver can inspect a standalone pending order.
	if _, err := svc.FindOne(context.Background(), o.ID, "d9", models.RoleDriver); err != nil {
		t.Fatalf("open order should be visible to drivers: %v", err)
	}
	// Another customer cannot.
	if _, err := svc.FindOne(context.Background(), o.ID, "c2", models.RoleCustomer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for a foreign customer, got %v", err)
	}

	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Once assigned, only the pair can see it.
	if _, err := svc.FindOne(context.Background(), o.ID, "d9", models.RoleDriver); !errors.Is(err, ErrForbidden) {
		t.Fatalf("an accepted order is private to its pair, got %v", err)
	}
	if _, err := svc.FindOne(context.Background(), o.ID, "d1", models.RoleDriver); err != nil {
		t.Fatalf("assigned driver must see the order: %v", err)
	}
}

func TestBadgeCountAndMarkRead(t *testing.T) {
	svc, _, _ := newTestService()
	standaloneOrder(t, svc, "c1")
	standaloneOrder(t, svc, "c1")

	n, err := svc.CountPending(context.Background(), "d1", models.RoleDriver)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 unread pending orders, got %d err=%v", n, err)
	}
	if err := svc.MarkAsRead(context.Background(), "d1", models.RoleDriver); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err = svc.CountPending(context.Background(), "d1", models.RoleDriver)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 after marking read, got %d err=%v", n, err)
	}
}

// Orders are never deleted: cancellations and rejections keep the full
// history, and reopen restores from it.
func TestLifecycleEndToEnd(t *testing.T) {
	svc, _, _ := newTestService()
	o := standaloneOrder(t, svc, "c1")

	if _, _, err := svc.Accept(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartProgress(context.Background(), o.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	fp := int64(6000)
	got, err := svc.Complete(context.Background(), o.ID, "d1", &fp)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.OrderCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected final state: %+v", got)
	}
	// Completed orders are settled for good.
	if _, err := svc.Cancel(context.Background(), o.ID, "c1", ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("completed orders cannot be cancelled, got %v", err)
	}
	if _, err := svc.Reopen(context.Background(), o.ID, "c1"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("completed orders cannot be reopened, got %v", err)
	}
}
