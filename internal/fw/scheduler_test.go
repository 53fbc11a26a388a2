package fw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFIFOTieBreak(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	var order []int
	deadline := now.Add(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		i := i
		s.Schedule(now, deadline.Sub(now), func(canceled bool) time.Duration {
			order = append(order, i)
			return 0
		})
	}

	s.RunDue(deadline)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSchedulerOrdersByDeadlineBeforeSeq(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	var order []string
	s.Schedule(now, 20*time.Millisecond, func(canceled bool) time.Duration {
		order = append(order, "late")
		return 0
	})
	s.Schedule(now, 5*time.Millisecond, func(canceled bool) time.Duration {
		order = append(order, "early")
		return 0
	})

	s.RunDue(now.Add(30 * time.Millisecond))
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestSchedulerRunDueOnlyFiresPastDeadlines(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	fired := false
	s.Schedule(now, time.Hour, func(canceled bool) time.Duration {
		fired = true
		return 0
	})

	s.RunDue(now)
	assert.False(t, fired)
	require.Equal(t, 1, s.Len())
}

func TestSchedulerReschedulesOnPositiveReturn(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	count := 0
	s.Schedule(now, 0, func(canceled bool) time.Duration {
		count++
		if count < 3 {
			return time.Millisecond
		}
		return 0
	})

	s.RunDue(now)
	assert.Equal(t, 1, count)
	// A rescheduled deadline is measured from the time passed to RunDue,
	// so each further firing needs its own later RunDue call.
	s.RunDue(now.Add(5 * time.Millisecond))
	assert.Equal(t, 2, count)
	s.RunDue(now.Add(10 * time.Millisecond))
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerCancelInvokesCanceledCallback(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	var sawCanceled bool
	ev := s.Schedule(now, time.Hour, func(canceled bool) time.Duration {
		sawCanceled = canceled
		return 0
	})

	s.Cancel(ev)
	assert.True(t, sawCanceled)
	assert.Equal(t, 0, s.Len())

	// Double-cancel is a no-op, not a second invocation.
	sawCanceled = false
	s.Cancel(ev)
	assert.False(t, sawCanceled)
}

func TestSchedulerNextDelay(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	_, ok := s.NextDelay(now)
	assert.False(t, ok)

	s.Schedule(now, 50*time.Millisecond, func(canceled bool) time.Duration { return 0 })
	d, ok := s.NextDelay(now)
	require.True(t, ok)
	assert.InDelta(t, 50*time.Millisecond, d, float64(time.Millisecond))

	// Once the deadline has passed, NextDelay floors at zero rather than
	// going negative.
	d, ok = s.NextDelay(now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}
