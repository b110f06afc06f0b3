package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey: ключ отсортированного множества с заданиями.
const DefaultRedisKey = "giftcard:delivery"

// RedisQueue хранит задания в отсортированном множестве Redis со счётом NotBefore.
// Задание забирает тот, чей ZREM удалил элемент, поэтому несколько экземпляров
// сервиса могут разбирать одну очередь.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue создаёт очередь поверх клиента Redis.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// Push добавляет задание.
func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd job: %w", err)
	}
	return nil
}

// PopDue забирает созревшие задания. Нераспознанные элементы удаляются из
// очереди и возвращаются как ошибка вместе с остальными заданиями.
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	var (
		jobs    []Job
		decodeE []error
	)
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return jobs, fmt.Errorf("zrem job: %w", err)
		}
		if removed == 0 {
			// забрал другой экземпляр
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			decodeE = append(decodeE, fmt.Errorf("decode job: %w", err))
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, errors.Join(decodeE...)
}

// Len возвращает число заданий в очереди.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
