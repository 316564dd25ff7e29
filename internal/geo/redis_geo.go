package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/vai-no-pulo/internal/models"
)

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(tripID string, origin models.Coord) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: origin.Lng,
		Latitude:  origin.Lat,
		Name:      tripID,
	}).Result()
}

func (r *RedisIndex) Remove(tripID string) {
	_ = r.client.ZRem(r.ctx, r.key, tripID).Err()
}

func (r *RedisIndex) Nearby(p models.Coord, radiusKm float64, limit int) []string {
	res, err := r.client.GeoRadius(r.ctx, r.key, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out
}
