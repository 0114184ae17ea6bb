package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/eomat/internal/queue"
)

const delayedKey = "eomat:jobs:delayed"

var (
	ProcessStream  = queue.Stream{Key: "eomat:jobs:process", Group: "eomat-processors"}
	DownloadStream = queue.Stream{Key: "eomat:jobs:download", Group: "eomat-downloaders"}
)

// StreamFor returns the stream carrying jobs of kind.
func StreamFor(kind Kind) queue.Stream {
	if kind == KindDownload {
		return DownloadStream
	}
	return ProcessStream
}

// ValkeyQueue submits jobs to Valkey streams. Retries wait in a sorted set
// scored by due time until Promote moves them back onto their stream.
type ValkeyQueue struct {
	client   valkey.Client
	producer *queue.Producer
	now      func() time.Time
}

func NewValkeyQueue(client valkey.Client) *ValkeyQueue {
	return &ValkeyQueue{
		client:   client,
		producer: queue.NewProducer(client),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q *ValkeyQueue) Submit(ctx context.Context, job Job) (string, error) {
	job = prepare(job, q.now())
	if _, err := q.producer.Enqueue(ctx, StreamFor(job.Kind).Key, job); err != nil {
		return "", fmt.Errorf("submit %s job %s: %w", job.Kind, job.ID, err)
	}
	return job.ID, nil
}

func (q *ValkeyQueue) Retry(ctx context.Context, job Job, countdown time.Duration) error {
	next, err := job.next()
	if err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	due := float64(q.now().Add(countdown).UnixMilli())
	resp := q.client.Do(ctx, q.client.B().Zadd().
		Key(delayedKey).
		ScoreMember().ScoreMember(due, string(data)).
		Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("zadd delayed job %s: %w", job.ID, err)
	}
	return nil
}

// Promote moves due retries onto their streams and returns how many moved.
// ZREM arbitrates between concurrent promoters so each retry moves once.
func (q *ValkeyQueue) Promote(ctx context.Context, limit int64) (int, error) {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	resp := q.client.Do(ctx, q.client.B().Zrangebyscore().
		Key(delayedKey).Min("-inf").Max(max).
		Limit(0, limit).
		Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("zrangebyscore delayed: %w", err)
	}
	members, err := resp.AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("parse delayed jobs: %w", err)
	}

	moved := 0
	for _, m := range members {
		removed, err := q.client.Do(ctx, q.client.B().Zrem().Key(delayedKey).Member(m).Build()).AsInt64()
		if err != nil {
			return moved, fmt.Errorf("zrem delayed: %w", err)
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			continue
		}
		if _, err := q.producer.EnqueueRaw(ctx, StreamFor(job.Kind).Key, []byte(m)); err != nil {
			return moved, fmt.Errorf("promote job %s: %w", job.ID, err)
		}
		moved++
	}
	return moved, nil
}

// Pending returns the number of retries waiting in the delayed set.
func (q *ValkeyQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.Do(ctx, q.client.B().Zcard().Key(delayedKey).Build()).AsInt64()
}
