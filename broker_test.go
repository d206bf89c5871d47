package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setUpBroker(opts ...func(*BrokerQueue)) (*BrokerQueue, *InProcessDriver) {
	driver := NewInProcessDriver()
	driver.PopTimeout = 10 * time.Millisecond
	opts = append([]func(*BrokerQueue){UseLogger(log.NewNopLogger()), UseParallelism(2)}, opts...)
	return NewBrokerQueue("test", driver, opts...), driver
}

type eventCounter struct {
	retrying, failed, completed int32
	lastErr                     atomic.Value
}

func (c *eventCounter) subscribe(q Queue) {
	q.On(EventRetrying, func(ctx context.Context, e Event) { atomic.AddInt32(&c.retrying, 1) })
	q.On(EventFailed, func(ctx context.Context, e Event) {
		atomic.AddInt32(&c.failed, 1)
		c.lastErr.Store(e.Err)
	})
	q.On(EventCompleted, func(ctx context.Context, e Event) { atomic.AddInt32(&c.completed, 1) })
}

func TestBrokerQueue_work(t *testing.T) {
	cases := []struct {
		name        string
		handler     ProcessFunc
		maxAttempts int
		check       func(t *testing.T, c *eventCounter, info QueueInfo)
	}{
		{
			"simple message",
			func(ctx context.Context, job *Job) error {
				assert.Equal(t, "hello", job.Data.String("value"))
				return nil
			},
			1,
			func(t *testing.T, c *eventCounter, info QueueInfo) {
				assert.Equal(t, int32(0), c.retrying)
				assert.Equal(t, int32(0), c.failed)
				assert.Equal(t, int32(1), c.completed)
				assert.Equal(t, int64(1), info.Completed)
			},
		},
		{
			"retry message",
			func(ctx context.Context, job *Job) error {
				return errors.New("foo")
			},
			2,
			func(t *testing.T, c *eventCounter, info QueueInfo) {
				assert.Equal(t, int32(1), c.retrying)
				assert.Equal(t, int32(0), c.failed)
				assert.Equal(t, int64(1), info.Waiting)
			},
		},
		{
			"fail message",
			func(ctx context.Context, job *Job) error {
				return errors.New("foo")
			},
			1,
			func(t *testing.T, c *eventCounter, info QueueInfo) {
				assert.Equal(t, int32(0), c.retrying)
				assert.Equal(t, int32(1), c.failed)
				assert.EqualError(t, c.lastErr.Load().(error), "foo")
				assert.Equal(t, int64(1), info.Failed)
			},
		},
		{
			"panicking handler",
			func(ctx context.Context, job *Job) error {
				panic("boom")
			},
			1,
			func(t *testing.T, c *eventCounter, info QueueInfo) {
				assert.Equal(t, int32(1), c.failed)
				assert.Contains(t, c.lastErr.Load().(error).Error(), "boom")
			},
		},
	}
	for _, cc := range cases {
		c := cc
		t.Run(c.name, func(t *testing.T) {
			var counter eventCounter
			q, driver := setUpBroker()
			counter.subscribe(q)
			q.Process(c.handler)

			value, err := q.codec.Marshal(Payload{"value": "hello"})
			require.NoError(t, err)
			msg := &PersistedJob{UniqueId: "1", Key: "test", Value: value, MaxAttempts: c.maxAttempts, Attempts: 1}
			q.work(context.Background(), msg)

			info, err := driver.Info(context.Background())
			require.NoError(t, err)
			c.check(t, &counter, info)
		})
	}
}

func TestBrokerQueue_work_undecodable(t *testing.T) {
	var counter eventCounter
	q, driver := setUpBroker()
	counter.subscribe(q)
	q.Process(func(ctx context.Context, job *Job) error {
		t.Fatal("handler must not run")
		return nil
	})
	q.work(context.Background(), &PersistedJob{UniqueId: "1", Value: []byte("{"), MaxAttempts: 3, Attempts: 1})

	info, _ := driver.Info(context.Background())
	assert.Equal(t, int64(1), info.Failed)
	assert.Equal(t, int32(1), counter.failed)
}

func TestBrokerQueue_Consume(t *testing.T) {
	var firstTry = make(chan struct{}, 1)
	var called = make(chan string)

	cases := []struct {
		name    string
		data    Payload
		opts    []JobOption
		handler ProcessFunc
		called  func(t *testing.T, q *BrokerQueue)
	}{
		{
			"ordinary message",
			Payload{"value": "hello"},
			nil,
			func(ctx context.Context, job *Job) error {
				assert.Equal(t, "hello", job.Data.String("value"))
				called <- "ordinary message"
				return nil
			},
			func(t *testing.T, q *BrokerQueue) {
				assert.Equal(t, "ordinary message", <-called)
			},
		},
		{
			"deferred message",
			Payload{"value": "hello"},
			[]JobOption{Delay(300 * time.Millisecond)},
			func(ctx context.Context, job *Job) error {
				called <- "deferred message"
				return nil
			},
			func(t *testing.T, q *BrokerQueue) {
				var str string
				select {
				case str = <-called:
				case <-time.After(100 * time.Millisecond):
				}
				assert.NotEqual(t, "deferred message", str)
				assert.Equal(t, "deferred message", <-called)
			},
		},
		{
			"failed message",
			Payload{"value": "hello"},
			nil,
			func(ctx context.Context, job *Job) error {
				defer func() {
					called <- "failed message"
				}()
				return errors.New("some err")
			},
			func(t *testing.T, q *BrokerQueue) {
				<-called
				time.Sleep(50 * time.Millisecond)
				counts, _ := q.GetJobCounts(context.Background())
				assert.Equal(t, int64(1), counts.Failed)
			},
		},
		{
			"retry message",
			Payload{"value": "hello"},
			[]JobOption{Attempts(2), WithBackoff(Backoff{Type: BackoffFixed, Delay: 10 * time.Millisecond})},
			func(ctx context.Context, job *Job) error {
				select {
				case <-firstTry:
					assert.Equal(t, 1, job.AttemptsMade)
					called <- "retry message"
					return nil
				default:
					firstTry <- struct{}{}
					return errors.New("some err")
				}
			},
			func(t *testing.T, q *BrokerQueue) {
				assert.Equal(t, "retry message", <-called)
				time.Sleep(50 * time.Millisecond)
				counts, _ := q.GetJobCounts(context.Background())
				assert.Equal(t, int64(0), counts.Failed)
				assert.Equal(t, int64(1), counts.Completed)
			},
		},
		{
			"reload message",
			Payload{"value": "hello"},
			nil,
			func(ctx context.Context, job *Job) error {
				called <- "reload message"
				return errors.New("some err")
			},
			func(t *testing.T, q *BrokerQueue) {
				<-called
				time.Sleep(50 * time.Millisecond)
				q.Pause(context.Background())
				num, _ := q.Driver().Reload(context.Background(), "failed")
				assert.Equal(t, int64(1), num)
				info, _ := q.Driver().Info(context.Background())
				assert.Equal(t, int64(0), info.Failed)
				assert.Equal(t, int64(1), info.Waiting)
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q, _ := setUpBroker()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go q.Consume(ctx)
			q.Process(c.handler)
			_, err := q.Add(context.Background(), c.data, c.opts...)
			assert.NoError(t, err)

			c.called(t, q)
		})
	}
}

func TestBrokerQueue_AddWithoutProcessor(t *testing.T) {
	q, _ := setUpBroker()
	job, err := q.Add(context.Background(), Payload{"shopId": 1})
	require.NoError(t, err)
	assert.Equal(t, "1", job.ID)

	counts, err := q.GetJobCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, JobCounts{Waiting: 1}, counts)
	assert.True(t, counts.Available())
}

func TestBrokerQueue_PauseResume(t *testing.T) {
	q, _ := setUpBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran int32
	q.Process(func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, q.Pause(ctx))
	go q.Consume(ctx)

	_, err := q.Add(ctx, Payload{})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))

	counts, _ := q.GetJobCounts(ctx)
	assert.Equal(t, int64(1), counts.Paused)
	assert.Equal(t, int64(0), counts.Waiting)

	require.NoError(t, q.Resume(ctx))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 10*time.Millisecond)
}

func TestBrokerQueue_JobIDDedupe(t *testing.T) {
	q, driver := setUpBroker()
	ctx := context.Background()

	first, err := q.Add(ctx, Payload{"shopId": 1}, JobID("offer:0xabc"))
	require.NoError(t, err)
	second, err := q.Add(ctx, Payload{"shopId": 1}, JobID("offer:0xabc"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	info, _ := driver.Info(ctx)
	assert.Equal(t, int64(1), info.Waiting)
}

func TestBrokerQueue_Repeat(t *testing.T) {
	q, driver := setUpBroker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Add(ctx, Payload{}, Repeat("*/5 * * * *"))
		require.NoError(t, err)
	}

	specs, err := driver.Repeatables(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 1)
	info, _ := driver.Info(ctx)
	assert.Equal(t, int64(1), info.Delayed)

	_, err = q.Add(ctx, Payload{}, Repeat("not a cron"))
	assert.Error(t, err)
}

func TestBrokerQueue_RepeatPlansFollowing(t *testing.T) {
	q, driver := setUpBroker()
	q.Process(func(ctx context.Context, job *Job) error { return nil })
	value, _ := q.codec.Marshal(Payload{})

	q.work(context.Background(), &PersistedJob{
		UniqueId:    "repeat:abc:0",
		Value:       value,
		Attempts:    1,
		MaxAttempts: 1,
		Repeat:      "* * * * *",
		RepeatKey:   "abc",
	})

	info, _ := driver.Info(context.Background())
	assert.Equal(t, int64(1), info.Delayed)
	assert.Equal(t, int64(1), info.Completed)
}

func TestBrokerQueue_recoverStalled(t *testing.T) {
	for _, requeue := range []bool{true, false} {
		var opts []func(*BrokerQueue)
		if !requeue {
			opts = append(opts, DisableStalledRecovery())
		}
		q, driver := setUpBroker(opts...)
		ctx := context.Background()

		var stalled int64
		q.On(EventStalled, func(ctx context.Context, e Event) { stalled = e.Count })

		_, err := q.Add(ctx, Payload{}, Timeout(time.Millisecond))
		require.NoError(t, err)
		_, err = driver.Pop(ctx)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		q.recoverStalled(ctx)

		info, _ := driver.Info(ctx)
		assert.Equal(t, int64(1), stalled)
		assert.Equal(t, int64(0), info.Active)
		if requeue {
			assert.Equal(t, int64(1), info.Waiting)
		} else {
			assert.Equal(t, int64(1), info.Failed)
		}
	}
}

func TestBrokerQueue_ProgressAndLog(t *testing.T) {
	q, driver := setUpBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string)
	q.Process(func(ctx context.Context, job *Job) error {
		_ = job.Progress(ctx, 50)
		_ = job.Log(ctx, "halfway")
		done <- job.ID
		return nil
	})
	go q.Consume(ctx)
	_, err := q.Add(ctx, Payload{})
	require.NoError(t, err)

	id := <-done
	assert.Equal(t, 50, driver.JobProgress(id))
	assert.Equal(t, []string{"halfway"}, driver.JobLogs(id))
}

func TestBrokerQueue_ConsumeWaitsForProcessor(t *testing.T) {
	q, driver := setUpBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Add(context.Background(), Payload{})
	require.NoError(t, err)

	err = q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	info, _ := driver.Info(context.Background())
	assert.Equal(t, int64(1), info.Waiting)
}
