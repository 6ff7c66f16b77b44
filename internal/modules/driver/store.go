// README: Driver store backed by Postgres, with an optional Redis GEO index of available drivers.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fooddash/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const driverSelect = `
	SELECT d.id, d.user_id, u.name, u.phone, u.email, d.vehicle, d.status,
	       d.lat, d.lng, d.location_updated_at
	FROM drivers d
	JOIN users u ON u.id = d.user_id`

func scanDriver(row pgx.Row) (*Driver, error) {
	var (
		d        Driver
		lat, lng *float64
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Phone, &d.Email, &d.Vehicle, &d.Status,
		&lat, &lng, &d.LocationUpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func (s *PGStore) one(ctx context.Context, where string, arg string) (*Driver, error) {
	d, err := scanDriver(s.db.QueryRow(ctx, driverSelect+` WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.one(ctx, `d.id = $1`, string(id))
}

func (s *PGStore) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.one(ctx, `d.user_id = $1`, string(userID))
}

func (s *PGStore) many(ctx context.Context, sql string, args ...any) ([]Driver, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListAvailable returns available drivers that have reported a position.
func (s *PGStore) ListAvailable(ctx context.Context) ([]Driver, error) {
	return s.many(ctx, driverSelect+`
		WHERE d.status = 'available' AND d.lat IS NOT NULL AND d.lng IS NOT NULL
		ORDER BY d.id`)
}

func (s *PGStore) ListByIDs(ctx context.Context, ids []types.ID) ([]Driver, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	return s.many(ctx, driverSelect+` WHERE d.id = ANY($1) ORDER BY d.id`, raw)
}

// SetStatus switches between offline and available. A driver attached to an
// undelivered order is left untouched and reported with ok=false.
// The driver row is locked first so a concurrent claim commits before the
// order check runs.
func (s *PGStore) SetStatus(ctx context.Context, userID types.ID, status Status) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM drivers WHERE user_id = $1 FOR UPDATE`, string(userID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE drivers SET status = $1, updated_at = now()
		WHERE id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM orders o
			WHERE o.driver_id = drivers.id AND o.status NOT IN ('delivered', 'cancelled')
		  )`, string(status), id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (s *PGStore) UpdateLocation(ctx context.Context, userID types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET lat = $1, lng = $2, location_updated_at = $3, updated_at = $3
		WHERE user_id = $4`, p.Lat, p.Lng, at, string(userID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const driverGeoKey = "drivers:available"

// GeoIndex mirrors available driver positions into a Redis GEO set.
type GeoIndex struct {
	redis *redis.Client
}

func NewGeoIndex(rdb *redis.Client) *GeoIndex {
	return &GeoIndex{redis: rdb}
}

func (g *GeoIndex) Put(ctx context.Context, id types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

// Nearby returns driver ids within radiusKm of p, closest first.
func (g *GeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// Rebuild replaces the index contents with the given drivers.
func (g *GeoIndex) Rebuild(ctx context.Context, drivers []Driver) error {
	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, driverGeoKey)
		for _, d := range drivers {
			if !d.Dispatchable() {
				continue
			}
			pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
				Name:      string(d.ID),
				Longitude: d.Location.Lng,
				Latitude:  d.Location.Lat,
			})
		}
		return nil
	})
	return err
}
