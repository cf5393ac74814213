package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayProof/internal/pkg/cache"
)

const (
	keyPrefix = "payproof:jobs:"

	// Redis keys
	JobKeyPrefix     = keyPrefix + "job:"
	JobQueueKey      = keyPrefix + "pending"
	JobProcessingKey = keyPrefix + "processing"
	JobDelayedKey    = keyPrefix + "delayed" // sorted set, score = due time in unix millis
	JobStatsKey      = keyPrefix + "stats"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	stuckAfter   = 10 * time.Minute
	promoteEvery = time.Second
	sweepEvery   = time.Minute
	dequeueWait  = time.Second
)

// Queue runs background jobs stored in Redis. Retries wait in a delayed set
// until they are due, so they survive a restart.
type Queue struct {
	client  *redis.Client
	deps    Dependencies
	workers int
	now     func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a queue on the shared cache connection
func NewQueue(workers int) *Queue {
	return NewQueueWithClient(cache.GetClient(), workers)
}

// NewQueueWithClient creates a queue on a specific Redis client
func NewQueueWithClient(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	return &Queue{
		client:  client,
		workers: workers,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// SetDependencies wires the collaborators used by job processors.
// Must be called before Start.
func (q *Queue) SetDependencies(deps Dependencies) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deps = deps
}

// Start launches the workers and the maintenance loop
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}
	q.wg.Add(1)
	go q.maintain(q.stopCh)
}

// Stop signals all goroutines and waits for in-flight jobs
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(id int, stopCh <-chan struct{}) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: dequeue failed: %v", id, err)
			time.Sleep(dequeueWait)
			continue
		}
		log.Debugf("[JobQueue] Worker %d processing job %s (%s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
	}
}

// maintain promotes due retries and recovers jobs abandoned in processing.
func (q *Queue) maintain(stopCh <-chan struct{}) {
	defer q.wg.Done()
	promote := time.NewTicker(promoteEvery)
	defer promote.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			return
		case <-promote.C:
			if _, err := q.PromoteDue(ctx); err != nil {
				log.Errorf("[JobQueue] Promoting delayed jobs failed: %v", err)
			}
		case <-sweep.C:
			if n, err := q.RequeueStuck(ctx, stuckAfter); err != nil {
				log.Errorf("[JobQueue] Stuck job sweep failed: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Requeued %d stuck jobs", n)
			}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.EnqueueJobContext(context.Background(), jobType, payload)
}

// EnqueueJobContext adds a new job to the queue, bounded by ctx
func (q *Queue) EnqueueJobContext(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (%s)", job.ID, job.Type)
	return job, nil
}

// dequeueJob moves the oldest pending job to the processing list.
// redis.Nil means nothing arrived within dequeueWait.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, dequeueWait).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, id)
		return nil, fmt.Errorf("job %s unreadable, dropped: %w", id, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.Begin(q.now())
	q.updateJob(ctx, job)

	var err error
	switch job.Type {
	case JobTypeSendEmail:
		err = q.processSendEmailJob(ctx, job)
	case JobTypeGrantPurchase:
		err = q.processGrantPurchaseJob(ctx, job)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	switch {
	case err == nil:
		log.Infof("[JobQueue] Job %s completed", job.ID)
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.client.Del(ctx, JobKeyPrefix+job.ID)
	case job.Fail(q.now(), err.Error()):
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retry in %s: %v",
			job.ID, job.RetryCount, job.MaxRetries, job.RetryDelay(), err)
		q.updateJob(ctx, job)
		if serr := q.scheduleRetry(ctx, job.ID, q.now().Add(job.RetryDelay())); serr != nil {
			log.Errorf("[JobQueue] Job %s retry could not be scheduled: %v", job.ID, serr)
		}
	default:
		log.Errorf("[JobQueue] Job %s gave up after %d attempts: %v", job.ID, job.RetryCount, err)
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusFailed, 1)
	}

	if err := q.client.LRem(ctx, JobProcessingKey, 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing: %v", job.ID, err)
	}
}

func (q *Queue) scheduleRetry(ctx context.Context, id string, due time.Time) error {
	return q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: id}).Err()
}

// PromoteDue moves delayed jobs whose retry time has passed back to pending.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		// ZRem decides which instance owns the promotion.
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.requeue(ctx, id, ""); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// RequeueStuck returns jobs that sat in processing for longer than maxAge,
// e.g. after a worker crashed, to the pending list.
func (q *Queue) RequeueStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := q.now()
	requeued := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil || job.Status != JobStatusProcessing {
			q.client.LRem(ctx, JobProcessingKey, 1, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}
		log.Warnf("[JobQueue] Recovering stuck job %s (%s), processing for %s", job.ID, job.Type, now.Sub(started))
		if err := q.client.LRem(ctx, JobProcessingKey, 1, id).Err(); err != nil {
			return requeued, err
		}
		if err := q.requeue(ctx, id, "recovered after stalling in processing"); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// RecoverRetryingJobs reschedules jobs marked retrying that have no entry in
// the delayed set, e.g. when the process died between the two writes.
func (q *Queue) RecoverRetryingJobs(ctx context.Context, grace time.Duration) (int, error) {
	now := q.now()
	recovered := 0
	iter := q.client.Scan(ctx, 0, JobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(JobKeyPrefix):]
		job, err := q.GetJob(ctx, id)
		if err != nil || job.Status != JobStatusRetrying {
			continue
		}
		if now.Sub(job.UpdatedAt) < job.RetryDelay()+grace {
			continue
		}
		if err := q.client.ZScore(ctx, JobDelayedKey, id).Err(); err == nil {
			continue
		} else if !errors.Is(err, redis.Nil) {
			return recovered, err
		}
		log.Warnf("[JobQueue] Rescheduling orphaned retry of job %s (%s, attempt %d)", job.ID, job.Type, job.RetryCount)
		if err := q.scheduleRetry(ctx, id, now); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, iter.Err()
}

func (q *Queue) requeue(ctx context.Context, id, note string) error {
	job, err := q.GetJob(ctx, id)
	if errors.Is(err, redis.Nil) {
		return nil // expired meanwhile
	}
	if err != nil {
		return err
	}
	job.Status = JobStatusPending
	job.UpdatedAt = q.now()
	if note != "" {
		job.ErrorMsg = note
	}
	q.updateJob(ctx, job)
	return q.client.RPush(ctx, JobQueueKey, id).Err()
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID. redis.Nil is returned for unknown or finished jobs.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns the counters per job status
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[JobStatus]int64, len(stats))
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
