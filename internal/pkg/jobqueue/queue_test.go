package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, deps Dependencies) (*Queue, *redis.Client, *testClock) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Now()}
	q := NewQueueWithClient(client, 1)
	q.now = clock.Now
	q.SetDependencies(deps)
	return q, client, clock
}

func processNext(t *testing.T, q *Queue) *Job {
	t.Helper()
	job, err := q.dequeueJob(context.Background())
	require.NoError(t, err)
	q.processJob(context.Background(), job)
	return job
}

func putJob(t *testing.T, client *redis.Client, job *Job) {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), JobKeyPrefix+job.ID, data, JobTTL).Err())
}

func sizes(t *testing.T, q *Queue) (pending, processing, delayed int64) {
	t.Helper()
	ctx := context.Background()
	var err error
	pending, err = q.GetQueueSize(ctx)
	require.NoError(t, err)
	processing, err = q.GetProcessingSize(ctx)
	require.NoError(t, err)
	delayed, err = q.GetDelayedSize(ctx)
	require.NoError(t, err)
	return pending, processing, delayed
}

func TestPaymentNotificationDeliveredWithRequestID(t *testing.T) {
	mailer := &recordingMailer{}
	q, _, _ := newTestQueue(t, Dependencies{Mailer: mailer})
	ctx := context.Background()

	require.NoError(t, q.SendPaymentNotification(ctx, 9, "buyer@example.com", "Payment confirmed", "<p>ok</p>"))

	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	payload, err := SendEmailJobPayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(9), payload.PaymentRequestID)

	q.processJob(ctx, job)
	assert.Equal(t, "buyer@example.com", mailer.lastTo())

	_, err = q.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil, "completed jobs are removed")
	pending, processing, delayed := sizes(t, q)
	assert.Zero(t, pending+processing+delayed)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestPlainNotificationHasNoRequestID(t *testing.T) {
	q, _, _ := newTestQueue(t, Dependencies{Mailer: &recordingMailer{}})
	ctx := context.Background()

	require.NoError(t, q.SendEmailNotification(ctx, "ops@example.com", "Digest", "body"))

	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	payload, err := SendEmailJobPayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Zero(t, payload.PaymentRequestID)
}

func TestEnqueueHonoursCancelledContext(t *testing.T) {
	q, _, _ := newTestQueue(t, Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.SendPaymentNotification(ctx, 1, "buyer@example.com", "s", "b")
	assert.ErrorIs(t, err, context.Canceled)

	pending, _, _ := sizes(t, q)
	assert.Zero(t, pending)
}

func TestGrantJobProcessed(t *testing.T) {
	granter := &recordingGranter{}
	q, _, _ := newTestQueue(t, Dependencies{Purchases: granter})

	require.NoError(t, q.ScheduleGrantRetry(context.Background(), 7, "bundle", 42, 3))
	job := processNext(t, q)

	assert.Equal(t, JobTypeGrantPurchase, job.Type)
	assert.Equal(t, 1, granter.calls)
	assert.Equal(t, grantCall{userID: 7, itemType: "bundle", itemID: 42, requestID: 3}, granter.last)
}

func TestFailedJobWaitsInDelayedSetUntilDue(t *testing.T) {
	granter := &recordingGranter{err: errors.New("library unavailable")}
	q, _, clock := newTestQueue(t, Dependencies{Purchases: granter})
	ctx := context.Background()

	require.NoError(t, q.ScheduleGrantRetry(ctx, 7, "book", 42, 3))
	job := processNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.ErrorMsg, "library unavailable")

	pending, processing, delayed := sizes(t, q)
	assert.Equal(t, [3]int64{0, 0, 1}, [3]int64{pending, processing, delayed})

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due before the backoff elapsed")

	clock.Advance(stored.RetryDelay())
	n, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, _, delayed = sizes(t, q)
	assert.Equal(t, int64(1), pending)
	assert.Zero(t, delayed)

	granter.err = nil
	processNext(t, q)
	assert.Equal(t, 2, granter.calls)
	_, err = q.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestJobFailsPermanentlyAfterMaxRetries(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	q, _, clock := newTestQueue(t, Dependencies{Mailer: mailer})
	ctx := context.Background()

	require.NoError(t, q.SendPaymentNotification(ctx, 4, "buyer@example.com", "s", "b"))

	var job *Job
	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		job = processNext(t, q)
		clock.Advance(time.Hour)
		_, err := q.PromoteDue(ctx)
		require.NoError(t, err)
	}

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, DefaultMaxRetries, stored.RetryCount)

	pending, processing, delayed := sizes(t, q)
	assert.Zero(t, pending+processing+delayed)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusFailed])
}

func TestRecoverRetryingJobsReschedulesLostRetry(t *testing.T) {
	q, client, clock := newTestQueue(t, Dependencies{})
	ctx := context.Background()

	retrying := func(id string, updated time.Time) *Job {
		return &Job{
			ID:         id,
			Type:       JobTypeSendEmail,
			Status:     JobStatusRetrying,
			Payload:    SendEmailJobPayload{To: id + "@example.com"}.ToMap(),
			UpdatedAt:  updated,
			RetryCount: 1,
			MaxRetries: DefaultMaxRetries,
		}
	}
	// Marked retrying but the process died before the delayed entry was written.
	putJob(t, client, retrying("lost", clock.Now().Add(-time.Hour)))
	// Same age, retry still scheduled.
	putJob(t, client, retrying("scheduled", clock.Now().Add(-time.Hour)))
	require.NoError(t, q.scheduleRetry(ctx, "scheduled", clock.Now().Add(time.Hour)))
	// Within its backoff window.
	putJob(t, client, retrying("fresh", clock.Now()))

	n, err := q.RecoverRetryingJobs(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.RecoverRetryingJobs(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "a rescheduled job is not rescheduled again")

	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	ids, err := client.LRange(ctx, JobQueueKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"lost"}, ids)

	recovered, err := q.GetJob(ctx, "lost")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, recovered.Status)
	assert.Equal(t, 1, recovered.RetryCount)
}

func TestRequeueStuckReturnsAbandonedJob(t *testing.T) {
	q, _, clock := newTestQueue(t, Dependencies{})
	ctx := context.Background()

	require.NoError(t, q.SendPaymentNotification(ctx, 1, "buyer@example.com", "s", "b"))
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	job.Begin(clock.Now())
	q.updateJob(ctx, job)

	n, err := q.RequeueStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "a job still within its window stays in processing")

	clock.Advance(11 * time.Minute)
	n, err = q.RequeueStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, processing, _ := sizes(t, q)
	assert.Equal(t, int64(1), pending)
	assert.Zero(t, processing)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.NotEmpty(t, stored.ErrorMsg)
}

func TestDequeueDropsUnreadableJob(t *testing.T) {
	q, client, _ := newTestQueue(t, Dependencies{})
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, JobQueueKey, "expired").Err())

	_, err := q.dequeueJob(ctx)
	require.Error(t, err)

	pending, processing, _ := sizes(t, q)
	assert.Zero(t, pending+processing)
}

func TestStartedQueueDeliversJobs(t *testing.T) {
	mailer := &recordingMailer{}
	q, _, _ := newTestQueue(t, Dependencies{Mailer: mailer})

	q.Start()
	defer q.Stop()

	require.NoError(t, q.SendPaymentNotification(context.Background(), 2, "buyer@example.com", "s", "b"))
	assert.Eventually(t, func() bool {
		return mailer.lastTo() == "buyer@example.com"
	}, 5*time.Second, 20*time.Millisecond)
}
