// Package queue implements the Durable Stream Queue contract of spec.md
// §4.C on Redis Streams, replacing the teacher's simple RPush/BLPop list
// queue with consumer groups, a pending-entries list, and crash-recovery
// reclaim — the primitives list-based queues cannot express.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vclip/render-pipeline/internal/types"
)

// Entry is one delivered stream item: its Redis-assigned id and decoded job.
type Entry struct {
	ID  string
	Job types.JobEnvelope
}

const dedupTTL = 1 * time.Hour

// Queue wraps a single Redis stream plus its DLQ sibling stream.
type Queue struct {
	rdb       *redis.Client
	stream    string
	dlqStream string
	group     string
}

// New names the stream, its DLQ stream (stream+":dlq"), and the consumer
// group every worker in the fleet joins.
func New(rdb *redis.Client, stream, group string) *Queue {
	return &Queue{
		rdb:       rdb,
		stream:    stream,
		dlqStream: stream + ":dlq",
		group:     group,
	}
}

// Init creates the consumer group at tail ($) if it does not already exist.
// BUSYGROUP (group already exists) is swallowed, matching the teacher's
// init-is-idempotent pattern.
func (q *Queue) Init(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("queue: init group %s/%s: %w", q.stream, q.group, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Enqueue sets the dedup sentinel then appends job to the stream. It returns
// types.ErrDuplicateJob if the idempotency key was already seen within the
// last hour.
func (q *Queue) Enqueue(ctx context.Context, job types.JobEnvelope) (string, error) {
	dedupKey := "vclip:dedup:" + job.IdempotencyKey
	ok, err := q.rdb.SetNX(ctx, dedupKey, "1", dedupTTL).Result()
	if err != nil {
		return "", fmt.Errorf("queue: dedup check: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: key=%s", types.ErrDuplicateJob, job.IdempotencyKey)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}

	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"job": string(payload),
			"key": job.IdempotencyKey,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: xadd: %w", err)
	}
	return id, nil
}

// Consume reads up to count never-delivered entries for consumerName,
// blocking up to blockMs if none are immediately available. Malformed
// payloads are acked and dropped rather than returned, per spec.md §4.C.
func (q *Queue) Consume(ctx context.Context, consumerName string, blockMs int64, count int64) ([]Entry, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumerName,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    time.Duration(blockMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: xreadgroup: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return q.decodeMessages(ctx, res[0].Messages), nil
}

// ClaimPending reassigns entries idle at least minIdleMs from the group's
// PEL to consumerName, used for crash recovery (spec.md §4.C).
func (q *Queue) ClaimPending(ctx context.Context, consumerName string, minIdleMs int64, count int64) ([]Entry, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumerName,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: xautoclaim: %w", err)
	}
	return q.decodeMessages(ctx, msgs), nil
}

func (q *Queue) decodeMessages(ctx context.Context, msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["job"].(string)
		if !ok {
			q.ackAndDrop(ctx, m.ID)
			continue
		}
		var job types.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.ackAndDrop(ctx, m.ID)
			continue
		}
		entries = append(entries, Entry{ID: m.ID, Job: job})
	}
	return entries
}

func (q *Queue) ackAndDrop(ctx context.Context, entryID string) {
	_ = q.rdb.XAck(ctx, q.stream, q.group, entryID).Err()
	_ = q.rdb.XDel(ctx, q.stream, entryID).Err()
}

// Ack acknowledges entryID in the group and removes it from the stream.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	if err := q.rdb.XAck(ctx, q.stream, q.group, entryID).Err(); err != nil {
		return fmt.Errorf("queue: xack %s: %w", entryID, err)
	}
	if err := q.rdb.XDel(ctx, q.stream, entryID).Err(); err != nil {
		return fmt.Errorf("queue: xdel %s: %w", entryID, err)
	}
	return nil
}

// DLQ appends job+error to the DLQ stream, then acks the original entry.
func (q *Queue) DLQ(ctx context.Context, entryID string, job types.JobEnvelope, cause error) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job for dlq: %w", err)
	}
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{
			"job":         string(payload),
			"error":       errMsg,
			"original_id": entryID,
		},
	}).Err(); err != nil {
		return fmt.Errorf("queue: dlq xadd: %w", err)
	}
	return q.Ack(ctx, entryID)
}

// IncrementRetry bumps and returns the retry counter for entryID. The
// counter is keyed by entry_id (not job_id) so a successful reclaim
// inherits the prior retry count, per spec.md §4.C.
func (q *Queue) IncrementRetry(ctx context.Context, entryID string) (int64, error) {
	key := "vclip:retry:" + entryID
	n, err := q.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: increment retry %s: %w", entryID, err)
	}
	q.rdb.Expire(ctx, key, 24*time.Hour)
	return n, nil
}

// ClearDedup removes the dedup sentinel for job's idempotency key, letting a
// caller deliberately permit a future resubmission.
func (q *Queue) ClearDedup(ctx context.Context, job types.JobEnvelope) error {
	if err := q.rdb.Del(ctx, "vclip:dedup:"+job.IdempotencyKey).Err(); err != nil {
		return fmt.Errorf("queue: clear dedup: %w", err)
	}
	return nil
}

// Len reports the number of entries currently on the stream.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: xlen: %w", err)
	}
	return n, nil
}

// DLQLen reports the number of entries on the DLQ stream.
func (q *Queue) DLQLen(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.dlqStream).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: dlq xlen: %w", err)
	}
	return n, nil
}
