package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/vai-no-pulo/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the handle for migrations.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const orderColumns = `id, customer_id, driver_id, trip_id, status,
	item_description, weight_kg, estimated_price, final_price, payment_ref,
	origin_name, origin_lat, origin_lng, dest_name, dest_lat, dest_lng,
	created_at, accepted_at, rejected_at, rejection_reason,
	cancelled_at, cancellation_reason, cancelled_by, completed_at, read_at`

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, driver_id, trip_id, status,
			item_description, weight_kg, estimated_price,
			origin_name, origin_lat, origin_lng, dest_name, dest_lat, dest_lng,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.CustomerID, o.DriverID, o.TripID, string(o.Status),
		o.ItemDescription, o.WeightKg, o.EstimatedPrice,
		o.OriginName, o.Origin.Lat, o.Origin.Lng, o.DestName, o.Dest.Lat, o.Dest.Lng,
		o.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) ListCustomerOrders(ctx context.Context, customerID string) ([]*models.Order, error) {
	return p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID)
}

func (p *PostgresStore) ListDriverOrders(ctx context.Context, driverID string) ([]*models.Order, error) {
	return p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE driver_id = $1
		    OR (trip_id IS NULL AND status IN ('PENDING','ACCEPTED'))
		 ORDER BY created_at DESC`,
		driverID)
}

func (p *PostgresStore) HasOpenOrderForTrip(ctx context.Context, customerID, tripID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE customer_id = $1 AND trip_id = $2
			  AND status IN ('PENDING','ACCEPTED')
		)`, customerID, tripID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) AcceptOrder(ctx context.Context, id, driverID string) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET driver_id = $2, status = 'ACCEPTED', accepted_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		  AND (driver_id IS NULL OR driver_id = $2)`,
		id, driverID)
}

func (p *PostgresStore) RejectOrder(ctx context.Context, id, driverID, reason string) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET driver_id = $2, status = 'REJECTED', rejected_at = NOW(), rejection_reason = $3
		WHERE id = $1 AND status = 'PENDING'`,
		id, driverID, reason)
}

func (p *PostgresStore) CancelOrder(ctx context.Context, id string, by models.CancelActor, reason string, from []models.OrderStatus) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET status = 'CANCELLED', cancelled_at = NOW(), cancellation_reason = $2, cancelled_by = $3
		WHERE id = $1 AND status = ANY($4)`,
		id, reason, string(by), pq.Array(statusStrings(from)))
}

func (p *PostgresStore) StartOrder(ctx context.Context, id, driverID string) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET status = 'IN_PROGRESS'
		WHERE id = $1 AND status = 'ACCEPTED' AND driver_id = $2`,
		id, driverID)
}

func (p *PostgresStore) CompleteOrder(ctx context.Context, id, driverID string, finalPrice int64) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET status = 'COMPLETED', final_price = $3, completed_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS' AND driver_id = $2`,
		id, driverID, finalPrice)
}

func (p *PostgresStore) ReopenOrder(ctx context.Context, id string, keepDriver bool) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE orders
		SET status = 'PENDING',
		    driver_id = CASE WHEN $2 THEN driver_id ELSE NULL END,
		    rejected_at = NULL, rejection_reason = NULL,
		    cancelled_at = NULL, cancellation_reason = NULL, cancelled_by = NULL
		WHERE id = $1 AND status IN ('CANCELLED','REJECTED')`,
		id, keepDriver)
}

func (p *PostgresStore) SetOrderPaymentRef(ctx context.Context, id, ref string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE orders SET payment_ref = $2 WHERE id = $1`, id, ref)
	return err
}

func (p *PostgresStore) CountPendingOrders(ctx context.Context, userID string, role models.Role) (int, error) {
	var n int
	var err error
	if role == models.RoleDriver {
		err = p.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM orders
			WHERE status = 'PENDING' AND read_at IS NULL
			  AND (driver_id = $1 OR (trip_id IS NULL AND driver_id IS NULL))`,
			userID).Scan(&n)
	} else {
		err = p.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM orders
			WHERE status = 'PENDING' AND read_at IS NULL AND customer_id = $1`,
			userID).Scan(&n)
	}
	return n, err
}

func (p *PostgresStore) MarkOrdersRead(ctx context.Context, userID string, role models.Role) error {
	var err error
	if role == models.RoleDriver {
		_, err = p.db.ExecContext(ctx, `
			UPDATE orders SET read_at = NOW()
			WHERE read_at IS NULL
			  AND (driver_id = $1 OR (trip_id IS NULL AND driver_id IS NULL))`,
			userID)
	} else {
		_, err = p.db.ExecContext(ctx, `
			UPDATE orders SET read_at = NOW()
			WHERE read_at IS NULL AND customer_id = $1`,
			userID)
	}
	return err
}

const tripColumns = `id, driver_id, vehicle_id, status,
	origin_name, origin_lat, origin_lng, dest_name, dest_lat, dest_lng,
	departure_at, capacity_kg, created_at`

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips (
			id, driver_id, vehicle_id, status,
			origin_name, origin_lat, origin_lng, dest_name, dest_lat, dest_lng,
			departure_at, capacity_kg, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.DriverID, t.VehicleID, string(t.Status),
		t.OriginName, t.Origin.Lat, t.Origin.Lng, t.DestName, t.Dest.Lat, t.Dest.Lng,
		t.DepartureAt, t.CapacityKg, t.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) GetTrips(ctx context.Context, ids []string) ([]*models.Trip, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.queryTrips(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ANY($1)`, pq.Array(ids))
}

func (p *PostgresStore) ListDriverTrips(ctx context.Context, driverID string) ([]*models.Trip, error) {
	return p.queryTrips(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE driver_id = $1 ORDER BY departure_at DESC`,
		driverID)
}

func (p *PostgresStore) ListScheduledTrips(ctx context.Context) ([]*models.Trip, error) {
	return p.queryTrips(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE status = 'SCHEDULED' ORDER BY departure_at`)
}

func (p *PostgresStore) UpdateTripDetails(ctx context.Context, t *models.Trip) (bool, error) {
	return p.execAffected(ctx, `
		UPDATE trips
		SET origin_name = $2, origin_lat = $3, origin_lng = $4,
		    dest_name = $5, dest_lat = $6, dest_lng = $7,
		    departure_at = $8, capacity_kg = $9, vehicle_id = $10
		WHERE id = $1 AND status = 'SCHEDULED'`,
		t.ID, t.OriginName, t.Origin.Lat, t.Origin.Lng,
		t.DestName, t.Dest.Lat, t.Dest.Lng,
		t.DepartureAt, t.CapacityKg, t.VehicleID)
}

func (p *PostgresStore) UpdateTripStatus(ctx context.Context, id string, from []models.TripStatus, to models.TripStatus) (bool, error) {
	fs := make([]string, len(from))
	for i, s := range from {
		fs[i] = string(s)
	}
	return p.execAffected(ctx, `
		UPDATE trips SET status = $2 WHERE id = $1 AND status = ANY($3)`,
		id, string(to), pq.Array(fs))
}

func (p *PostgresStore) DeleteTrip(ctx context.Context, id string) (bool, error) {
	return p.execAffected(ctx, `
		DELETE FROM trips WHERE id = $1 AND status NOT IN ('ACTIVE','COMPLETED')`, id)
}

func (p *PostgresStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, driver_id, plate, model, capacity_kg)
		VALUES ($1,$2,$3,$4,$5)`,
		v.ID, v.DriverID, v.Plate, v.Model, v.CapacityKg)
	return err
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := p.db.QueryRowContext(ctx, `
		SELECT id, driver_id, plate, model, capacity_kg FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.DriverID, &v.Plate, &v.Model, &v.CapacityKg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *PostgresStore) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) queryTrips(ctx context.Context, query string, args ...any) ([]*models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var driverID, tripID, paymentRef, rejectionReason, cancellationReason, cancelledBy sql.NullString
	var finalPrice sql.NullInt64
	var acceptedAt, rejectedAt, cancelledAt, completedAt, readAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.CustomerID, &driverID, &tripID, &o.Status,
		&o.ItemDescription, &o.WeightKg, &o.EstimatedPrice, &finalPrice, &paymentRef,
		&o.OriginName, &o.Origin.Lat, &o.Origin.Lng, &o.DestName, &o.Dest.Lat, &o.Dest.Lng,
		&o.CreatedAt, &acceptedAt, &rejectedAt, &rejectionReason,
		&cancelledAt, &cancellationReason, &cancelledBy, &completedAt, &readAt,
	)
	if err != nil {
		return nil, err
	}

	o.DriverID = nullStr(driverID)
	o.TripID = nullStr(tripID)
	o.PaymentRef = nullStr(paymentRef)
	o.RejectionReason = nullStr(rejectionReason)
	o.CancellationReason = nullStr(cancellationReason)
	if cancelledBy.Valid {
		by := models.CancelActor(cancelledBy.String)
		o.CancelledBy = &by
	}
	if finalPrice.Valid {
		v := finalPrice.Int64
		o.FinalPrice = &v
	}
	o.AcceptedAt = nullTime(acceptedAt)
	o.RejectedAt = nullTime(rejectedAt)
	o.CancelledAt = nullTime(cancelledAt)
	o.CompletedAt = nullTime(completedAt)
	o.ReadAt = nullTime(readAt)
	return &o, nil
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	err := row.Scan(
		&t.ID, &t.DriverID, &t.VehicleID, &t.Status,
		&t.OriginName, &t.Origin.Lat, &t.Origin.Lng, &t.DestName, &t.Dest.Lat, &t.Dest.Lng,
		&t.DepartureAt, &t.CapacityKg, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func statusStrings(ss []models.OrderStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
