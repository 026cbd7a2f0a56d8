// Package store keeps the last-known gateway state in Redis: the most
// recent STATUS and the most recent telemetry frame per payload id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/projecthorus/horus-utils/internal/types"
)

const keyPrefix = "horus:"

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewStore connects to Redis and pings it. Values expire after ttl.
func NewStore(ctx context.Context, addr string, db int, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func StatusKey() string { return keyPrefix + "status" }

func TelemetryKey(payloadID int) string {
	return keyPrefix + "telemetry:" + strconv.Itoa(payloadID)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Record saves STATUS messages and decodable telemetry frames; every other
// message is ignored.
func (s *Store) Record(ctx context.Context, m types.Message) error {
	switch msg := m.(type) {
	case types.Status:
		return s.SaveStatus(ctx, msg)
	case types.RxPacket:
		tlm, ok := types.TelemetryFromRx(msg, s.now())
		if !ok {
			return nil
		}
		return s.SaveTelemetry(ctx, tlm)
	}
	return nil
}

func (s *Store) SaveStatus(ctx context.Context, st types.Status) error {
	return s.set(ctx, StatusKey(), st)
}

func (s *Store) SaveTelemetry(ctx context.Context, t types.Telemetry) error {
	return s.set(ctx, TelemetryKey(t.PayloadID), t)
}

func (s *Store) LatestStatus(ctx context.Context) (json.RawMessage, error) {
	return s.get(ctx, StatusKey())
}

func (s *Store) LatestTelemetry(ctx context.Context, payloadID int) (types.Telemetry, error) {
	raw, err := s.get(ctx, TelemetryKey(payloadID))
	if err != nil {
		return types.Telemetry{}, err
	}
	var t types.Telemetry
	if err := json.Unmarshal(raw, &t); err != nil {
		return types.Telemetry{}, fmt.Errorf("decode %s: %w", TelemetryKey(payloadID), err)
	}
	return t, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (json.RawMessage, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return b, nil
}
