package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackQueue_AddWithoutProcessor(t *testing.T) {
	q := NewFallbackQueue("etl", log.NewNopLogger())
	job, err := q.Add(context.Background(), Payload{})
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrNoProcessor)
	assert.Contains(t, err.Error(), "etl")
}

func TestFallbackQueue_Add(t *testing.T) {
	cases := []struct {
		name      string
		handler   ProcessFunc
		expectErr string
		completed int
	}{
		{
			"success runs inline",
			func(ctx context.Context, job *Job) error {
				assert.Equal(t, "hello", job.Data.String("value"))
				return nil
			},
			"",
			1,
		},
		{
			"error is returned to the caller",
			func(ctx context.Context, job *Job) error {
				return errors.New("boom")
			},
			"boom",
			0,
		},
		{
			"panic is returned to the caller",
			func(ctx context.Context, job *Job) error {
				panic("oops")
			},
			"oops",
			0,
		},
	}
	for _, cc := range cases {
		c := cc
		t.Run(c.name, func(t *testing.T) {
			q := NewFallbackQueue("test", nil)
			var completed, failed int
			q.On(EventCompleted, func(ctx context.Context, e Event) { completed++ })
			q.On(EventFailed, func(ctx context.Context, e Event) { failed++ })
			q.Process(c.handler)

			job, err := q.Add(context.Background(), Payload{"value": "hello"}, Attempts(5))
			require.NotNil(t, job)
			if c.expectErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Contains(t, err.Error(), c.expectErr)
			}
			assert.Equal(t, c.completed, completed)
			assert.Equal(t, 0, failed)
		})
	}
}

func TestFallbackQueue_MonotonicIDs(t *testing.T) {
	q := NewFallbackQueue("test", nil)
	q.Process(func(ctx context.Context, job *Job) error { return nil })
	first, _ := q.Add(context.Background(), Payload{})
	second, _ := q.Add(context.Background(), Payload{})
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
}

func TestFallbackQueue_RepeatIsSkipped(t *testing.T) {
	q := NewFallbackQueue("dns", nil)
	var ran bool
	q.Process(func(ctx context.Context, job *Job) error {
		ran = true
		return nil
	})
	job, err := q.Add(context.Background(), Payload{}, Repeat("*/5 * * * *"))
	assert.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", job.Options.Repeat)
	assert.False(t, ran)
}

func TestFallbackQueue_Counts(t *testing.T) {
	q := NewFallbackQueue("test", nil)
	assert.NoError(t, q.Pause(context.Background()))
	assert.NoError(t, q.Resume(context.Background()))

	counts, err := q.GetJobCounts(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, JobCounts{-1, -1, -1, -1, -1, -1}, counts)
	assert.False(t, counts.Available())
}

func TestFallbackQueue_ProgressAndLog(t *testing.T) {
	q := NewFallbackQueue("test", nil)
	var seen *Job
	q.Process(func(ctx context.Context, job *Job) error {
		seen = job
		assert.NoError(t, job.Progress(ctx, 100))
		assert.NoError(t, job.Log(ctx, "done"))
		return nil
	})
	_, err := q.Add(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, 100, seen.CurrentProgress())
	assert.Equal(t, []string{"done"}, seen.Logs())
}
