package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/billing"
	"github.com/passgate/passgate/internal/pkg/cache/cachetest"
)

type fakeFulfiller struct {
	mu      sync.Mutex
	orders  []string
	attempt bool
	failure error
	err     error
}

func (f *fakeFulfiller) Fulfill(ctx context.Context, orderID string) (*billing.FulfillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, orderID)
	if f.err != nil {
		return nil, f.err
	}
	return &billing.FulfillResult{
		Order:     &models.Order{ID: orderID, PaymentStatus: models.PaymentStatusPaid},
		Attempted: f.attempt,
		Err:       f.failure,
	}, nil
}

func (f *fakeFulfiller) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.orders...)
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, DefaultWorkers},
		{"Negative workers", -1, DefaultWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.IsRunning())
		})
	}
}

func TestEnqueueWithoutClient(t *testing.T) {
	_, err := NewQueue(nil, 1).EnqueueJob(context.Background(), JobTypePurchase, nil)
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       Job
		retryable bool
	}{
		{"failed with retries left", Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"failed and exhausted", Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"purchase jobs never retry", Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 0}, false},
		{"completed", Job{Status: JobStatusCompleted, MaxRetries: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestPurchasePayloadSurvivesJobEncoding(t *testing.T) {
	job := Job{ID: "j", Type: JobTypePurchase, Payload: PurchaseJobPayload{OrderID: "order-1"}.ToMap()}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	payload, err := PurchaseJobPayloadFromMap(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "order-1", payload.OrderID)
}

func newRedisQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(cachetest.NewClient(t, cachetest.DBJobQueue), 1)
}

// runNext processes one queued job on the calling goroutine.
func runNext(t *testing.T, q *Queue) *Job {
	t.Helper()
	job, err := q.dequeueJob(context.Background())
	require.NoError(t, err)
	q.processJob(context.Background(), job)
	return job
}

func TestPurchaseDispatcherRunsFulfillment(t *testing.T) {
	q := newRedisQueue(t)
	f := &fakeFulfiller{attempt: true}
	RegisterPurchaseHandler(q, f)

	require.NoError(t, NewPurchaseDispatcher(q).DispatchPurchase(context.Background(), "order-1"))
	size, err := q.GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	job := runNext(t, q)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"order-1"}, f.calls())

	_, err = q.GetJob(context.Background(), job.ID)
	assert.Error(t, err, "completed jobs are removed")
	processing, err := q.GetProcessingSize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processing)

	stats, err := q.GetJobStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestFailedPurchaseJobIsNotRetried(t *testing.T) {
	q := newRedisQueue(t)
	f := &fakeFulfiller{attempt: true, failure: errors.New("purchase_failed")}
	RegisterPurchaseHandler(q, f)

	require.NoError(t, NewPurchaseDispatcher(q).DispatchPurchase(context.Background(), "order-2"))
	job := runNext(t, q)

	stored, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "purchase_failed", stored.ErrorMsg)
	assert.Equal(t, 0, stored.MaxRetries)

	size, err := q.GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Len(t, f.calls(), 1)
}

func TestSkippedPurchaseCompletesJob(t *testing.T) {
	q := newRedisQueue(t)
	RegisterPurchaseHandler(q, &fakeFulfiller{attempt: false})

	require.NoError(t, NewPurchaseDispatcher(q).DispatchPurchase(context.Background(), "order-3"))
	assert.Equal(t, JobStatusCompleted, runNext(t, q).Status)
}

func TestUnknownJobTypeFails(t *testing.T) {
	q := newRedisQueue(t)
	job, err := q.EnqueueJob(context.Background(), JobType("mystery"), nil)
	require.NoError(t, err)

	runNext(t, q)
	stored, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestRecoverStuckRequeuesOldProcessingJobs(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	stuck := &Job{ID: "stuck", Type: JobTypePurchase, Status: JobStatusProcessing, ProcessedAt: &old, UpdatedAt: old}
	fresh := time.Now()
	busy := &Job{ID: "busy", Type: JobTypePurchase, Status: JobStatusProcessing, ProcessedAt: &fresh, UpdatedAt: fresh}
	q.updateJob(ctx, stuck)
	q.updateJob(ctx, busy)
	require.NoError(t, q.client.LPush(ctx, JobProcessingKey, "stuck", "busy", "gone").Err())

	assert.Equal(t, 1, q.recoverStuck(ctx, 10*time.Minute, time.Now()))

	pending, err := q.client.LRange(ctx, JobQueueKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, pending)
	processing, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"busy"}, processing)
}

func TestWorkersDrainQueue(t *testing.T) {
	q := newRedisQueue(t)
	f := &fakeFulfiller{attempt: true}
	RegisterPurchaseHandler(q, f)
	d := NewPurchaseDispatcher(q)

	q.Start()
	defer q.Stop()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.DispatchPurchase(context.Background(), id))
	}

	require.Eventually(t, func() bool { return len(f.calls()) == 3 }, 5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, f.calls())
}
