package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/refresh"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type countingRefresher struct {
	runs atomic.Int32
	err  error
}

func (c *countingRefresher) RunCycle(context.Context) (refresh.Status, error) {
	c.runs.Add(1)
	return refresh.Status{CycleID: "c", Outcome: refresh.OutcomeComplete}, c.err
}

func TestIntervalRunsImmediately(t *testing.T) {
	r := &countingRefresher{}
	s := New(r, time.Hour, "")
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.scheduler.Jobs(), 1)
}

func TestFailedRunKeepsSchedule(t *testing.T) {
	r := &countingRefresher{err: errors.New("upstream down")}
	s := New(r, time.Hour, "")
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.scheduler.Jobs(), 1)
}

func TestCronSchedule(t *testing.T) {
	r := &countingRefresher{}
	s := New(r, time.Hour, "0 3 * * *")
	require.NoError(t, s.Start())
	defer s.Stop()

	jobs := s.scheduler.Jobs()
	require.Len(t, jobs, 1)
	next := jobs[0].NextRun()
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestInvalidCron(t *testing.T) {
	s := New(&countingRefresher{}, time.Hour, "not a cron")
	assert.Error(t, s.Start())
}
