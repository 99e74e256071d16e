package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	scheduler "github.com/gimlee/settlement/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

var schedulerTypes = map[string]func() ports.SchedulerService{
	"gocron": func() ports.SchedulerService {
		return scheduler.NewScheduler()
	},
}

func TestSchedulerService(t *testing.T) {
	for schedulerType, factory := range schedulerTypes {
		t.Run(schedulerType, func(t *testing.T) {
			testScheduler(t, factory)
		})
	}
}

func testScheduler(t *testing.T, newScheduler func() ports.SchedulerService) {
	t.Run("run every interval", func(t *testing.T) {
		svc := newScheduler()

		var runs atomic.Int32
		err := svc.ScheduleEvery("tick", 100*time.Millisecond, func(context.Context) {
			runs.Add(1)
		})
		require.NoError(t, err)

		svc.Start()
		defer svc.Stop()

		require.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, 2*time.Second, 20*time.Millisecond)

		jobs := svc.Jobs()
		require.Len(t, jobs, 1)
		require.Equal(t, "tick", jobs[0].Name)
		require.Equal(t, 100*time.Millisecond, jobs[0].Interval)
		require.False(t, jobs[0].LastRun.IsZero())
		require.GreaterOrEqual(t, jobs[0].Runs, uint64(2))
	})

	t.Run("skip overlapping runs", func(t *testing.T) {
		svc := newScheduler()

		var (
			inFlight atomic.Int32
			maxSeen  atomic.Int32
		)
		err := svc.ScheduleEvery("slow", 50*time.Millisecond, func(ctx context.Context) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		})
		require.NoError(t, err)

		svc.Start()
		time.Sleep(time.Second)
		svc.Stop()

		require.EqualValues(t, 1, maxSeen.Load())
		jobs := svc.Jobs()
		require.Len(t, jobs, 1)
		require.Greater(t, jobs[0].Skipped, uint64(0))
		require.False(t, jobs[0].Running)
	})

	t.Run("stop cancels running jobs", func(t *testing.T) {
		svc := newScheduler()

		started := make(chan struct{}, 1)
		var cancelled atomic.Bool
		err := svc.ScheduleEvery("blocking", time.Hour, func(ctx context.Context) {
			started <- struct{}{}
			select {
			case <-ctx.Done():
				cancelled.Store(true)
			case <-time.After(3 * time.Second):
			}
		})
		require.NoError(t, err)

		svc.Start()
		select {
		case <-started:
		case <-time.After(time.Second):
			require.Fail(t, "job did not start")
		}

		begin := time.Now()
		svc.Stop()
		require.Less(t, time.Since(begin), time.Second)
		require.True(t, cancelled.Load())

		jobs := svc.Jobs()
		require.Len(t, jobs, 1)
		require.False(t, jobs[0].Running)
		require.EqualValues(t, 1, jobs[0].Runs)
	})

	t.Run("invalid jobs", func(t *testing.T) {
		svc := newScheduler()

		require.Error(t, svc.ScheduleEvery("zero", 0, func(context.Context) {}))
		require.Error(t, svc.ScheduleEvery("nil", time.Second, nil))
		require.NoError(t, svc.ScheduleEvery("dup", time.Second, func(context.Context) {}))
		require.Error(t, svc.ScheduleEvery("dup", time.Second, func(context.Context) {}))
	})
}
