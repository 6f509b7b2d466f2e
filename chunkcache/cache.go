// Package chunkcache stores per-chunk transcription results in Redis. It is
// the authoritative record of "has this chunk's work finished": chunk workers
// write results here, the key count under a meeting's pattern is the
// completion barrier, and the merger reads and then deletes everything. It
// also hosts the summarize fan-in counter and the best-effort message dedup
// guard, both keyed per meeting or message id with the same TTL bound.
package chunkcache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetscribe/meetscribe/schemas"
)

const (
	// chunkTTL bounds orphaned entries when a pipeline dies between stages.
	chunkTTL = time.Hour

	// scanCount is the SCAN batch size. Meetings have at most a few dozen
	// chunks, so one batch usually covers the whole pattern.
	scanCount = 256
)

func chunkKey(meetingID string, chunkID int) string {
	return fmt.Sprintf("chunks:%s:%d", meetingID, chunkID)
}

func chunkPattern(meetingID string) string {
	return fmt.Sprintf("chunks:%s:*", meetingID)
}

func fanInKey(meetingID string) string {
	return fmt.Sprintf("summarize:%s:done", meetingID)
}

func dedupKey(messageID string) string {
	return "dedup:" + messageID
}

// Cache wraps the shared Redis client used by all pipeline workers.
type Cache struct {
	client redis.UniversalClient
	logger schemas.Logger
}

// New connects to Redis using a redis:// URL.
func New(url string, logger schemas.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("chunkcache: parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), logger), nil
}

// NewWithClient wraps an existing client. Tests use it with miniredis.
func NewWithClient(client redis.UniversalClient, logger schemas.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// Ping verifies the connection at worker startup.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// PutChunk writes one chunk result under chunks:<meeting>:<chunk> with the
// standard TTL. Retried chunks overwrite their previous entry, which keeps
// the barrier count stable across retries.
func (c *Cache) PutChunk(ctx context.Context, meetingID string, result schemas.ChunkResult) error {
	body, err := schemas.Marshal(result)
	if err != nil {
		return fmt.Errorf("chunkcache: marshal chunk %d: %w", result.ChunkID, err)
	}
	if err := c.client.Set(ctx, chunkKey(meetingID, result.ChunkID), body, chunkTTL).Err(); err != nil {
		return fmt.Errorf("chunkcache: store chunk %d for meeting %s: %w", result.ChunkID, meetingID, err)
	}
	return nil
}

// scanKeys collects every key matching the meeting's chunk pattern.
func (c *Cache) scanKeys(ctx context.Context, meetingID string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, chunkPattern(meetingID), scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("chunkcache: scan chunks for meeting %s: %w", meetingID, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// CountChunks returns the number of recorded chunk results for a meeting.
// This is the completion barrier the chunk workers consult.
func (c *Cache) CountChunks(ctx context.Context, meetingID string) (int, error) {
	keys, err := c.scanKeys(ctx, meetingID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ListChunks loads every chunk result for a meeting, sorted by chunk id.
func (c *Cache) ListChunks(ctx context.Context, meetingID string) ([]schemas.ChunkResult, error) {
	keys, err := c.scanKeys(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("chunkcache: load chunks for meeting %s: %w", meetingID, err)
	}
	results := make([]schemas.ChunkResult, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET; the TTL makes this possible.
			c.logger.Warn("chunk key %s vanished during merge read", keys[i])
			continue
		}
		var r schemas.ChunkResult
		if err := schemas.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("chunkcache: decode %s: %w", keys[i], err)
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ChunkID < results[j].ChunkID })
	return results, nil
}

// DeleteChunks removes every cached result and the fan-in counter for a
// meeting. Safe to call repeatedly; the merger runs it after both success and
// failure finalization.
func (c *Cache) DeleteChunks(ctx context.Context, meetingID string) error {
	keys, err := c.scanKeys(ctx, meetingID)
	if err != nil {
		return err
	}
	keys = append(keys, fanInKey(meetingID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("chunkcache: delete chunks for meeting %s: %w", meetingID, err)
	}
	return nil
}

// IncrFanIn bumps the summarize fan-in counter and returns the new value.
// The key-notes and tasks handlers each call it once after persisting;
// whichever observes the count reach the fan-out width completes the meeting.
func (c *Cache) IncrFanIn(ctx context.Context, meetingID string) (int64, error) {
	key := fanInKey(meetingID)
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("chunkcache: fan-in counter for meeting %s: %w", meetingID, err)
	}
	if err := c.client.Expire(ctx, key, chunkTTL).Err(); err != nil {
		c.logger.Warn("setting TTL on %s failed: %v", key, err)
	}
	return n, nil
}

// ClearFanIn drops the fan-in counter once the meeting is completed.
func (c *Cache) ClearFanIn(ctx context.Context, meetingID string) error {
	return c.client.Del(ctx, fanInKey(meetingID)).Err()
}

// FirstDelivery implements the consumer-side dedup guard for messages with
// deterministic ids. SETNX on dedup:<id> wins exactly once per TTL window.
// This is best-effort; the merger's transcribed check remains authoritative.
func (c *Cache) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupKey(messageID), 1, chunkTTL).Result()
	if err != nil {
		return false, fmt.Errorf("chunkcache: dedup check for %s: %w", messageID, err)
	}
	return ok, nil
}
