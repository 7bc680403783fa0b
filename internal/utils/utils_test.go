package utils

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFatal = errors.New("fatal")

func notFatal(err error) bool { return !errors.Is(err, errFatal) }

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var retried []int
	calls := 0
	got, err := Retry(context.Background(), RetryPolicy{Attempts: 3}, notFatal,
		func(attempt int, err error) { retried = append(retried, attempt) },
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 2}, nil, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("flaky")
	})
	require.EqualError(t, err, "flaky")
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 5}, notFatal, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFatal
	})
	require.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = Retry(context.Background(), RetryPolicy{}, nil, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("flaky")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 5, Delay: time.Hour}, nil, nil, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestParseRelativeAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"30s", now.Add(-30 * time.Second)},
		{"5m", now.Add(-5 * time.Minute)},
		{"2 mins", now.Add(-2 * time.Minute)},
		{"3h", now.Add(-3 * time.Hour)},
		{"4d", now.AddDate(0, 0, -4)},
		{"2w", now.AddDate(0, 0, -14)},
		{"1mo", now.AddDate(0, -1, 0)},
		{"5yr", now.AddDate(-5, 0, 0)},
		{" 1y • Edited", now.AddDate(-1, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRelativeAge(tt.in, now)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, in := range []string{"", "yesterday", "Edited"} {
		_, ok := ParseRelativeAge(in, now)
		assert.False(t, ok, in)
	}
}

func TestHoursSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 25, HoursSince(now.Add(-25*time.Hour-10*time.Minute), now))
	assert.Zero(t, HoursSince(time.Time{}, now))
	assert.Zero(t, HoursSince(now.Add(time.Hour), now))
	assert.Equal(t, "2024-05-01 12:00:00", FormatTimestamp(now))
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "scraper.log")
	logger := NewLogger(LogOptions{Level: "debug", File: file, MaxSize: 1})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Info("hello")
	assert.FileExists(t, file)

	assert.Equal(t, logrus.InfoLevel, NewLogger(LogOptions{Level: "loud"}).GetLevel())
}
