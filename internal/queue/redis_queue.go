package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
)

// RedisQueue coordinates ready, in-flight, and scheduled job queues in Redis,
// plus the recurring-schedule registry used by the scheduler. The registry
// lives in the shared backend so re-registration stays idempotent across
// process restarts.
type RedisQueue struct {
	client        *redis.Client
	kinds         []string
	inflightKey   string
	scheduledKey  string
	recurringKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client over an existing Redis connection.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "queue:dlq"
	}
	return &RedisQueue{
		client:        client,
		kinds:         []string{models.KindDiscovery, models.KindYouTubeDiscovery},
		inflightKey:   "queue:inflight",
		scheduledKey:  "queue:scheduled",
		recurringKey:  "queue:recurring",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

func (q *RedisQueue) readyKey(kind string) string {
	return fmt.Sprintf("queue:ready:%s", kind)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

func (q *RedisQueue) recurringMetaKey(name string) string {
	return fmt.Sprintf("queue:recurring:meta:%s", name)
}

// Enqueue inserts a job into either the scheduled set or its kind's ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, kind string, runAt time.Time) error {
	if kind == "" {
		kind = models.KindDiscovery
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "kind", kind)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, q.readyKey(kind), jobID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule moves a job into the scheduled set for deferred execution.
func (q *RedisQueue) Schedule(ctx context.Context, jobID, kind string, runAt time.Time) error {
	if kind == "" {
		kind = models.KindDiscovery
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "kind", kind)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into ready queues. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		kind := q.jobKind(ctx, id)
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey(kind), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (q *RedisQueue) jobKind(ctx context.Context, jobID string) string {
	kind, err := q.client.HGet(ctx, q.metaKey(jobID), "kind").Result()
	if err != nil || kind == "" {
		return models.KindDiscovery
	}
	return kind
}

// DequeueWithLease pops a job from the ready queues and places it into
// inflight with a visibility timeout.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.kinds)+1)
	for _, k := range q.kinds {
		keys = append(keys, q.readyKey(k))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		kind := q.jobKind(ctx, id)
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(kind), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends to the dead-letter queue for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the latest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the total length of all ready queues.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.kinds))
	for _, k := range q.kinds {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(k)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// ScheduledDepth returns the number of deferred jobs not yet promoted.
func (q *RedisQueue) ScheduledDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduledKey).Result()
}

type recurringMeta struct {
	IntervalMillis int64 `json:"interval_ms"`
}

// RegisterRecurring records a named recurring entry with the given interval.
// Registration overwrites any prior entry with the same name; the first run
// is due one full interval from now.
func (q *RedisQueue) RegisterRecurring(ctx context.Context, name string, interval time.Duration) error {
	meta, err := json.Marshal(recurringMeta{IntervalMillis: interval.Milliseconds()})
	if err != nil {
		return fmt.Errorf("marshal recurring meta: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.recurringMetaKey(name), meta, 0)
	pipe.ZAdd(ctx, q.recurringKey, redis.Z{
		Score:  float64(time.Now().Add(interval).UnixMilli()),
		Member: name,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// RemoveRecurring deletes a named recurring entry if present.
func (q *RedisQueue) RemoveRecurring(ctx context.Context, name string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.recurringKey, name)
	pipe.Del(ctx, q.recurringMetaKey(name))
	_, err := pipe.Exec(ctx)
	return err
}

// DueRecurring returns the recurring entries whose next run is due and
// advances each one by its interval. Concurrent pollers may both observe the
// same due entry; callers are expected to tolerate an occasional double fire
// the same way they tolerate queue redelivery.
func (q *RedisQueue) DueRecurring(ctx context.Context, now time.Time) ([]string, error) {
	names, err := q.client.ZRangeByScore(ctx, q.recurringKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, name := range names {
		interval := q.recurringInterval(ctx, name)
		pipe.ZAdd(ctx, q.recurringKey, redis.Z{
			Score:  float64(now.Add(interval).UnixMilli()),
			Member: name,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return names, nil
}

// ListRecurring returns all registered recurring entries.
func (q *RedisQueue) ListRecurring(ctx context.Context) ([]models.RecurringSchedule, error) {
	entries, err := q.client.ZRangeWithScores(ctx, q.recurringKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.RecurringSchedule, 0, len(entries))
	for _, e := range entries {
		name, ok := e.Member.(string)
		if !ok {
			continue
		}
		out = append(out, models.RecurringSchedule{
			Name:      name,
			Interval:  q.recurringInterval(ctx, name),
			NextRunAt: time.UnixMilli(int64(e.Score)),
		})
	}
	return out, nil
}

func (q *RedisQueue) recurringInterval(ctx context.Context, name string) time.Duration {
	raw, err := q.client.Get(ctx, q.recurringMetaKey(name)).Result()
	if err != nil {
		return 0
	}
	var meta recurringMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return 0
	}
	return time.Duration(meta.IntervalMillis) * time.Millisecond
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
