// Package notify fans alerts out to external sinks: the process log, the
// database, and optionally a Redis pub/sub channel for downstream
// consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atrium-data/presence.report/internal/monitoring"
	"github.com/atrium-data/presence.report/internal/occupancy"
)

// Sink receives alerts as they are raised.
type Sink interface {
	Notify(ctx context.Context, a occupancy.Alert) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

// Notify logs the alert.
func (LogSink) Notify(_ context.Context, a occupancy.Alert) error {
	monitoring.Logf("ALERT %s camera=%s zone=%s track=%d person=%q dwell=%v occupants=%d",
		a.Kind, a.CameraID, a.ZoneID, a.TrackID, a.PersonID, a.Dwell, a.OccupantCount)
	return nil
}

// AlertStore is the persistence surface a StoreSink needs.
type AlertStore interface {
	InsertAlert(ctx context.Context, a occupancy.Alert) error
}

// StoreSink persists alerts to the database.
type StoreSink struct {
	Store AlertStore
}

// Notify inserts the alert.
func (s StoreSink) Notify(ctx context.Context, a occupancy.Alert) error {
	return s.Store.InsertAlert(ctx, a)
}

// Fanout delivers each alert to every sink. A failing sink is logged and
// skipped; the rest still receive the alert.
type Fanout []Sink

// Notify delivers to all sinks and returns the last error seen.
func (f Fanout) Notify(ctx context.Context, a occupancy.Alert) error {
	var lastErr error
	for _, sink := range f {
		if err := sink.Notify(ctx, a); err != nil {
			monitoring.Logf("notify: sink error for alert %s: %v", a.ID, err)
			lastErr = err
		}
	}
	return lastErr
}

// RedisSink publishes alerts as JSON on a pub/sub channel and caches the
// latest alert per zone under a keyspace other services can poll.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// latestTTL bounds how long a stale per-zone alert stays readable.
const latestTTL = 24 * time.Hour

// NewRedisSink connects a sink to the Redis at addr. Returns nil when addr
// is empty, which disables the sink.
func NewRedisSink(addr, channel string) *RedisSink {
	if addr == "" {
		return nil
	}
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Notify publishes the alert and refreshes the per-zone latest key.
func (s *RedisSink) Notify(ctx context.Context, a occupancy.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	key := "presence:alerts:latest:" + a.ZoneID
	if err := s.client.Set(ctx, key, payload, latestTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
