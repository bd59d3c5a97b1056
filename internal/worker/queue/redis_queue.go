// Package queue is the Redis list that carries render jobs from the api to
// the workers.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
)

// DefaultName is used when no queue name is configured.
const DefaultName = "scenerender:jobs"

type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	if queueName == "" {
		queueName = DefaultName
	}
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push appends jobs in order. They are handed out first in, first out.
func (q *RedisQueue) Push(ctx context.Context, jobs ...models.RenderJob) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]any, 0, len(jobs))
	for _, j := range jobs {
		b, err := json.Marshal(j)
		if err != nil {
			return errors.Wrap(err, "queue.push", "encode job")
		}
		values = append(values, b)
	}
	if err := q.rdb.LPush(ctx, q.queueName, values...).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.push", "enqueue render job")
	}
	return nil
}

// Pop blocks up to timeout for the next payload. ok is false when the
// timeout expired with the queue empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (payload string, ok bool, err error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// Decode parses a payload returned by Pop.
func Decode(payload string) (models.RenderJob, error) {
	var j models.RenderJob
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return j, errors.WrapWithCode(err, errors.CodeValidation, "queue.decode", "undecodable job payload")
	}
	if j.RenderID == "" || j.FileID == "" || !j.Type.Valid() {
		return j, errors.Validation("job payload is missing render_id, file_uuid or a valid type")
	}
	return j, nil
}

// Len reports the number of waiting jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}
