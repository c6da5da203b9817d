package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// Redis mirrors driver presence in Redis so multiple API processes and the
// location consumer share one view. Coordinates live in a GEO set keyed by
// driver id; the remaining flags live in a per-driver hash.
type Redis struct {
	client *redis.Client
	geoKey string
	setKey string
}

func NewRedis(addr, password, keyPrefix string) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisWithClient(c, keyPrefix)
}

func NewRedisWithClient(c *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "drivers"
	}
	return &Redis{client: c, geoKey: keyPrefix + ":geo", setKey: keyPrefix + ":ids"}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) metaKey(driverID string) string { return "driver:presence:" + driverID }

func (r *Redis) Get(ctx context.Context, driverID string) (models.DriverPresence, error) {
	m, err := r.client.HGetAll(ctx, r.metaKey(driverID)).Result()
	if err != nil {
		return models.DriverPresence{}, err
	}
	if len(m) == 0 {
		return models.DriverPresence{}, ErrUnknownDriver
	}
	return presenceFromHash(driverID, m), nil
}

func (r *Redis) Snapshot(ctx context.Context) ([]models.DriverPresence, error) {
	ids, err := r.client.SMembers(ctx, r.setKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverPresence, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			if err == ErrUnknownDriver {
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Redis) Upsert(ctx context.Context, p models.DriverPresence) error {
	fields := map[string]interface{}{
		"online":   strconv.FormatBool(p.Online),
		"verified": strconv.FormatBool(p.Verified),
		"active":   strconv.FormatBool(p.Active),
	}
	if p.Location != nil {
		p.Geohash = geohash.EncodeWithPrecision(p.Location.Lat, p.Location.Lng, geohashPrecision)
		fields["lat"] = strconv.FormatFloat(p.Location.Lat, 'f', -1, 64)
		fields["lng"] = strconv.FormatFloat(p.Location.Lng, 'f', -1, 64)
		fields["geohash"] = p.Geohash
		if p.LastLocationAt != nil {
			fields["last_location_at"] = p.LastLocationAt.UTC().Format(time.RFC3339Nano)
		}
		if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
			Longitude: p.Location.Lng, Latitude: p.Location.Lat, Name: p.DriverID,
		}).Err(); err != nil {
			return err
		}
	}
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.setKey, p.DriverID)
	pipe.HSet(ctx, r.metaKey(p.DriverID), fields)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) UpdateLocation(ctx context.Context, driverID string, loc models.Coordinate, at time.Time) error {
	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID,
	}).Err(); err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.setKey, driverID)
	pipe.HSet(ctx, r.metaKey(driverID), map[string]interface{}{
		"lat":              strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lng":              strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		"geohash":          geohash.EncodeWithPrecision(loc.Lat, loc.Lng, geohashPrecision),
		"last_location_at": at.UTC().Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SetOnline(ctx context.Context, driverID string, online bool) error {
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.setKey, driverID)
	pipe.HSet(ctx, r.metaKey(driverID), "online", strconv.FormatBool(online))
	if !online {
		pipe.HDel(ctx, r.metaKey(driverID), "lat", "lng", "geohash", "last_location_at")
		pipe.ZRem(ctx, r.geoKey, driverID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func presenceFromHash(driverID string, m map[string]string) models.DriverPresence {
	p := models.DriverPresence{DriverID: driverID}
	p.Online = m["online"] == "true"
	p.Verified = m["verified"] == "true"
	p.Active = m["active"] == "true"
	p.Geohash = m["geohash"]

	lat, latErr := strconv.ParseFloat(m["lat"], 64)
	lng, lngErr := strconv.ParseFloat(m["lng"], 64)
	if latErr == nil && lngErr == nil {
		p.Location = &models.Coordinate{Lat: lat, Lng: lng}
	}
	if v, ok := m["last_location_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			p.LastLocationAt = &ts
		}
	}
	return p
}
