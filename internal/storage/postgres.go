package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresRideRepo persists rides in a single rides table. Status-guarded
// updates use a conditional UPDATE so concurrent transitions on the same ride
// serialize at the row.
type PostgresRideRepo struct {
	db *sql.DB
}

func NewPostgresRideRepo(dsn string) (*PostgresRideRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRideRepo{db: db}, nil
}

func NewPostgresRideRepoWithDB(db *sql.DB) *PostgresRideRepo {
	return &PostgresRideRepo{db: db}
}

// Migrate applies schema DDL. Statements are expected to be idempotent
// (CREATE TABLE IF NOT EXISTS style).
func (p *PostgresRideRepo) Migrate(ctx context.Context, ddl string) error {
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func (p *PostgresRideRepo) Close() error { return p.db.Close() }

const rideColumns = `id, passenger_id, driver_id, pickup_lat, pickup_lng, pickup_address,
	drop_lat, drop_lng, drop_address, city, status, fare, distance_km, duration_minutes,
	requested_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
	notes, payment_status`

func (p *PostgresRideRepo) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.PassengerID, nullStr(r.DriverID),
		r.Pickup.Lat, r.Pickup.Lng, r.PickupAddress,
		r.Drop.Lat, r.Drop.Lng, r.DropAddress,
		r.City, string(r.Status), r.Fare, r.DistanceKm, r.DurationMinutes,
		r.RequestedAt, r.AcceptedAt, r.ArrivedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		nullStr(r.Notes), r.PaymentStatus)
	return err
}

func (p *PostgresRideRepo) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (p *PostgresRideRepo) UpdateIfStatus(ctx context.Context, r *models.Ride, expected models.RideStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET
		driver_id=$1, status=$2, fare=$3, distance_km=$4, duration_minutes=$5,
		accepted_at=$6, arrived_at=$7, started_at=$8, completed_at=$9, cancelled_at=$10,
		payment_status=$11
		WHERE id=$12 AND status=$13`,
		nullStr(r.DriverID), string(r.Status), r.Fare, r.DistanceKm, r.DurationMinutes,
		r.AcceptedAt, r.ArrivedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		r.PaymentStatus, r.ID, string(expected))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Distinguish a lost race from a missing row.
	if _, err := p.Get(ctx, r.ID); err != nil {
		return err
	}
	return ErrStaleRide
}

func (p *PostgresRideRepo) ActiveByPassenger(ctx context.Context, passengerID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE passenger_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY requested_at DESC LIMIT 1`, passengerID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresRideRepo) ActiveListByPassenger(ctx context.Context, passengerID string) ([]*models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE passenger_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY requested_at DESC`, passengerID)
}

func (p *PostgresRideRepo) HistoryByPassenger(ctx context.Context, passengerID string, limit int) ([]*models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE passenger_id=$1 AND status IN ('completed','cancelled')
		ORDER BY requested_at DESC LIMIT $2`, passengerID, limit)
}

func (p *PostgresRideRepo) ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id=$1 ORDER BY requested_at DESC LIMIT $2`, driverID, limit)
}

func (p *PostgresRideRepo) CompletedByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return p.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id=$1 AND status='completed' ORDER BY requested_at DESC`, driverID)
}

func (p *PostgresRideRepo) list(ctx context.Context, query string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, notes sql.NullString
	var status string
	err := s.Scan(&r.ID, &r.PassengerID, &driverID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.PickupAddress,
		&r.Drop.Lat, &r.Drop.Lng, &r.DropAddress,
		&r.City, &status, &r.Fare, &r.DistanceKm, &r.DurationMinutes,
		&r.RequestedAt, &r.AcceptedAt, &r.ArrivedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&notes, &r.PaymentStatus)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.Notes = notes.String
	r.Status = models.RideStatus(status)
	return &r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
