package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatSpec_NextRun(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 59, 30, 0, time.UTC)
	cases := []struct {
		cron   string
		expect time.Time
	}{
		{"*/5 * * * *", time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)},
		{"0 1 * * *", time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		t.Run(c.cron, func(t *testing.T) {
			next, err := RepeatSpec{Cron: c.cron}.NextRun(at)
			require.NoError(t, err)
			assert.Equal(t, c.expect, next)
		})
	}
}

func TestRepeatSpec_NextRunIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, loc)
	next, err := RepeatSpec{Cron: "0 1 * * *"}.NextRun(at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), next)
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("0 1 * * *")
	assert.NoError(t, err)
	_, err = ParseSchedule("0 0 1 * * *")
	assert.Error(t, err)
}

func TestRepeatKey(t *testing.T) {
	assert.Equal(t, repeatKey("dns", "*/5 * * * *", []byte("{}")), repeatKey("dns", "*/5 * * * *", []byte("{}")))
	assert.NotEqual(t, repeatKey("dns", "*/5 * * * *", []byte("{}")), repeatKey("etl", "*/5 * * * *", []byte("{}")))
	assert.NotEqual(t, repeatKey("dns", "*/5 * * * *", []byte("{}")), repeatKey("dns", "0 1 * * *", []byte("{}")))
}

func TestRepeatSpec_occurrence(t *testing.T) {
	spec := RepeatSpec{Key: "k", Cron: "0 1 * * *", Value: []byte("{}"), MaxAttempts: 2}
	at := time.UnixMilli(1700000000000)
	msg := spec.occurrence("etl", at, time.Minute)
	assert.Equal(t, "repeat:k:1700000000000", msg.UniqueId)
	assert.Equal(t, "etl", msg.Key)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, 2, msg.MaxAttempts)
	assert.Equal(t, "k", msg.RepeatKey)
	assert.Equal(t, time.Minute, msg.HandleTimeout)
}
