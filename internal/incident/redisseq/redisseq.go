// Package redisseq allocates incident numbers from a Redis counter so that
// several engine instances sharing one record store never hand out the same
// ordinal.
package redisseq

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultKey is the counter key used when Config.Key is empty.
const DefaultKey = "respond:incident_number"

var tracer = otel.Tracer("github.com/linnemanlabs/respond/internal/incident/redisseq")

// raise the counter to at least ARGV[1], never lower it
var ensureAtLeast = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return cur
`)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Sequencer implements incident.Sequencer with INCR.
type Sequencer struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Sequencer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string) *Sequencer {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Sequencer{client: client, key: key}
}

// NextIncidentNumber atomically increments the counter and returns the new value.
func (s *Sequencer) NextIncidentNumber(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "redisseq.NextIncidentNumber")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("db.operation.name", "INCR"))

	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("incr %s: %w", s.key, err)
	}
	return n, nil
}

// EnsureAtLeast raises the counter to floor if it is currently lower. Used at
// startup to seed the counter from the highest number already stored.
func (s *Sequencer) EnsureAtLeast(ctx context.Context, floor int64) (int64, error) {
	n, err := ensureAtLeast.Run(ctx, s.client, []string{s.key}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", s.key, err)
	}
	return n, nil
}

// Close releases the underlying client.
func (s *Sequencer) Close() error {
	return s.client.Close()
}
