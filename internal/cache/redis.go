package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleetsim/internal/config"
	"fleetsim/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	latestKey   = "snapshots:latest"
	baselineKey = "baselines"
)

// Message is one pub/sub payload: a batch of snapshots or an alert batch.
type Message struct {
	Type      string                   `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	Snapshots []models.MetricsSnapshot `json:"snapshots,omitempty"`
	Alerts    []models.Alert           `json:"alerts,omitempty"`
}

const (
	MessageMetrics = "metrics_update"
	MessageAlerts  = "alerts"
)

type RedisClient struct {
	client     *redis.Client
	channel    string
	ttl        time.Duration
	historyLen int64
}

func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing connection.
func NewWithClient(client *redis.Client, cfg config.RedisConfig) *RedisClient {
	historyLen := cfg.HistoryLen
	if historyLen <= 0 {
		historyLen = 1000
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "metrics:updates"
	}
	return &RedisClient{
		client:     client,
		channel:    channel,
		ttl:        cfg.TTL(),
		historyLen: historyLen,
	}
}

func historyKey(nodeID string) string {
	return "snapshots:" + nodeID
}

func snapshotKey(snap models.MetricsSnapshot) string {
	return fmt.Sprintf("snapshot:%s:%d", snap.NodeID, snap.Timestamp.UnixNano())
}

// snapshotTime recovers the timestamp encoded in a snapshot key.
func snapshotTime(key string) (time.Time, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// StoreSnapshots records each snapshot under its own expiring key, pushes the
// key onto the node's recent list and refreshes the latest-per-node hash.
func (r *RedisClient) StoreSnapshots(ctx context.Context, snaps []models.MetricsSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		key := snapshotKey(snap)
		pipe.Set(ctx, key, data, r.ttl)
		pipe.LPush(ctx, historyKey(snap.NodeID), key)
		pipe.LTrim(ctx, historyKey(snap.NodeID), 0, r.historyLen-1)
		pipe.HSet(ctx, latestKey, snap.NodeID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store snapshots in Redis: %w", err)
	}
	return nil
}

// GetRecentSnapshots returns up to count snapshots for nodeID, newest first.
func (r *RedisClient) GetRecentSnapshots(ctx context.Context, nodeID string, count int64) ([]models.MetricsSnapshot, error) {
	keys, err := r.client.LRange(ctx, historyKey(nodeID), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent snapshot keys: %w", err)
	}

	snaps := make([]models.MetricsSnapshot, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue // expired
		}

		var snap models.MetricsSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}

	return snaps, nil
}

// ClearHistory drops nodeID's recent snapshots taken before before, or all
// of them when before is zero, and returns how many were removed.
func (r *RedisClient) ClearHistory(ctx context.Context, nodeID string, before time.Time) (int64, error) {
	list := historyKey(nodeID)
	keys, err := r.client.LRange(ctx, list, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshot keys: %w", err)
	}

	pipe := r.client.TxPipeline()
	var removed int64
	for _, key := range keys {
		if !before.IsZero() {
			ts, ok := snapshotTime(key)
			if !ok || !ts.Before(before) {
				continue
			}
		}
		pipe.LRem(ctx, list, 0, key)
		pipe.Del(ctx, key)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear history of %s: %w", nodeID, err)
	}
	return removed, nil
}

// GetLatest returns the most recent snapshot of every node.
func (r *RedisClient) GetLatest(ctx context.Context) (map[string]models.MetricsSnapshot, error) {
	raw, err := r.client.HGetAll(ctx, latestKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshots: %w", err)
	}

	out := make(map[string]models.MetricsSnapshot, len(raw))
	for id, data := range raw {
		var snap models.MetricsSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		out[id] = snap
	}
	return out, nil
}

func (r *RedisClient) SaveBaseline(ctx context.Context, b models.Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	if err := r.client.HSet(ctx, baselineKey, b.NodeID, data).Err(); err != nil {
		return fmt.Errorf("failed to store baseline: %w", err)
	}
	return nil
}

// LoadBaseline reports ok=false when nodeID has no saved override.
func (r *RedisClient) LoadBaseline(ctx context.Context, nodeID string) (models.Baseline, bool, error) {
	data, err := r.client.HGet(ctx, baselineKey, nodeID).Result()
	if err == redis.Nil {
		return models.Baseline{}, false, nil
	}
	if err != nil {
		return models.Baseline{}, false, fmt.Errorf("failed to load baseline: %w", err)
	}

	var b models.Baseline
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return models.Baseline{}, false, fmt.Errorf("failed to decode baseline: %w", err)
	}
	return b, true, nil
}

// Publish broadcasts msg on the updates channel.
func (r *RedisClient) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Listen delivers raw payloads from the updates channel to handle until ctx
// is done.
func (r *RedisClient) Listen(ctx context.Context, handle func([]byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
