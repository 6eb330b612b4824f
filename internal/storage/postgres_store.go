package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/models"
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
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const selectRide = `
SELECT r.id, r.driver_id, COALESCE(d.full_name, ''), COALESCE(r.status, ''),
       r.start_lat, r.start_lng, r.end_lat, r.end_lng, COALESCE(r.start_address, ''), COALESCE(r.end_address, ''),
       COALESCE(r.updated_at, now())
FROM rides r
LEFT JOIN profiles d ON d.id = r.driver_id
WHERE r.id = $1`

const selectRequests = `
SELECT rr.id, rr.passenger_id, COALESCE(p.full_name, ''), COALESCE(p.parent_phone_number, ''),
       COALESCE(rr.pickup_lat, 0), COALESCE(rr.pickup_lng, 0), COALESCE(rr.pickup_address, ''), COALESCE(rr.status, ''),
       COALESCE(rr.payment_intent_id, ''), COALESCE(rr.payment_status, ''), COALESCE(rr.fare_amount, 0)
FROM ride_requests rr
LEFT JOIN profiles p ON p.id = rr.passenger_id
WHERE rr.ride_id = $1
ORDER BY rr.created_at`

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := p.db.QueryRowContext(ctx, selectRide, id).Scan(
		&r.ID, &r.DriverID, &r.DriverName, &r.Status,
		&r.Start.Lat, &r.Start.Lng, &r.End.Lat, &r.End.Lng, &r.StartAddress, &r.EndAddress,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ride %s: %w", id, err)
	}

	rows, err := p.db.QueryContext(ctx, selectRequests, id)
	if err != nil {
		return nil, fmt.Errorf("select requests for ride %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var rr models.RideRequest
		if err := rows.Scan(&rr.ID, &rr.PassengerID, &rr.PassengerName, &rr.ParentPhone,
			&rr.Pickup.Lat, &rr.Pickup.Lng, &rr.PickupAddress, &rr.Status,
			&rr.PaymentIntentID, &rr.PaymentStatus, &rr.FareAmount); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Requests = append(r.Requests, rr)
	}
	return &r, rows.Err()
}

func (p *PostgresStore) UpdateRideStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) UpdatePaymentStatus(ctx context.Context, requestID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ride_requests SET payment_status=$1, updated_at=now() WHERE id=$2`, status, requestID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
