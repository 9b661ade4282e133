package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"abuse-gateway/middleware/abuse/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de vereditos em hashes do Redis.
//
// Só estatística: a reputação em si continua local ao processo.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "abuse:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keys devolve as chaves e o campo que um evento incrementa.
func (s *RedisStatsStore) keys(ev domain.StatsEvent, at time.Time) (field string, expiring []string, permanent []string, routeField string) {
	field = ev.Outcome.String()
	permanent = append(permanent, s.prefix+":total")

	if s.bucket == "minute" {
		expiring = append(expiring, fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")))
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			expiring = append(expiring, s.prefix+":key:"+k)
		}
	}

	routeField = strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		routeField += ":" + field
	}
	return field, expiring, permanent, routeField
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field, expiring, permanent, routeField := s.keys(ev, at)

	pipe := s.rdb.Pipeline()
	for _, k := range permanent {
		pipe.HIncrBy(ctx, k, field, 1)
	}
	for _, k := range expiring {
		pipe.HIncrBy(ctx, k, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}
