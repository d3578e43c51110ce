// Package redisstore keeps job records as JSON strings in Redis, with a sorted
// set indexing ids by last update time for the reconciler.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"video-narrator/internal/entity"
	"video-narrator/internal/repository"
)

const maxTxRetries = 10

type JobRepository struct {
	rdb       *redis.Client
	keyPrefix string
	indexKey  string
	clock     func() time.Time
}

func NewJobRepository(rdb *redis.Client, keyPrefix string) *JobRepository {
	if keyPrefix == "" {
		keyPrefix = "video_jobs"
	}
	return &JobRepository{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		indexKey:  keyPrefix + ":updated",
		clock:     time.Now,
	}
}

func (r *JobRepository) key(id string) string {
	return r.keyPrefix + ":" + id
}

// createScript stores the record and its index entry in one step, so a
// record never exists without being visible to ListStale.
var createScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
  return 1
end
return 0
`)

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	created, err := createScript.Run(ctx, r.rdb,
		[]string{r.key(job.ID), r.indexKey},
		data, job.UpdatedAt.UnixMilli(), job.ID,
	).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return repository.ErrExists
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	raw, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return decode(raw)
}

// Update runs the read-merge-write under WATCH so a concurrent writer on the
// same key aborts the transaction instead of being overwritten.
func (r *JobRepository) Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error) {
	key := r.key(id)
	var merged *entity.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrNotFound
			}
			return err
		}
		job, err := decode(raw)
		if err != nil {
			return err
		}
		if err := job.Apply(patch, r.clock()); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, r.indexKey, redis.Z{Score: float64(job.UpdatedAt.UnixMilli()), Member: id})
			return nil
		})
		if err != nil {
			return err
		}
		merged = job
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return merged, nil
	}
	return nil, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, updatedBefore time.Time, limit int) ([]*entity.Job, error) {
	const page = 200
	out := make([]*entity.Job, 0)
	maxScore := "(" + strconv.FormatInt(updatedBefore.UnixMilli(), 10)

	for offset := int64(0); ; offset += page {
		ids, err := r.rdb.ZRangeByScore(ctx, r.indexKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return out, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.key(id)
		}
		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue // index entry without a record
			}
			job, err := decode([]byte(s))
			if err != nil {
				return nil, err
			}
			if job.Status != status {
				continue
			}
			out = append(out, job)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
}

func decode(raw []byte) (*entity.Job, error) {
	var job entity.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
