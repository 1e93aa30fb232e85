package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consultia/billing-api/pkg/logger"
)

func init() {
	logger.Setup("test")
}

func TestWorker_EnqueueAsync(t *testing.T) {
	worker := NewWorker(0)
	defer worker.Shutdown()

	done := make(chan struct{})
	worker.EnqueueAsync(func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async job never ran")
	}

	assert.Eventually(t, func() bool {
		return worker.GetStats().CompletedJobs == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_EnqueueAsync_CountsFailures(t *testing.T) {
	worker := NewWorker(0)
	defer worker.Shutdown()

	worker.EnqueueAsync(func(ctx context.Context) error {
		return errors.New("smtp unreachable")
	})

	assert.Eventually(t, func() bool {
		stats := worker.GetStats()
		return stats.FailedJobs == 1 && stats.CompletedJobs == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_ScheduleEveryImmediate_RunsAtStartup(t *testing.T) {
	worker := NewWorker(0)
	defer worker.Shutdown()

	ran := make(chan struct{}, 1)
	worker.ScheduleEveryImmediate("recurring-invoices", time.Hour, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate sweep never ran")
	}

	assert.Eventually(t, func() bool {
		_, ok := worker.GetStats().LastSweepRuns["recurring-invoices"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_ScheduleEvery_WaitsForFirstTick(t *testing.T) {
	worker := NewWorker(0)
	defer worker.Shutdown()

	ran := make(chan struct{}, 1)
	worker.ScheduleEvery("overdue-invoices", time.Hour, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	select {
	case <-ran:
		t.Fatal("sweep ran before the first interval elapsed")
	case <-time.After(100 * time.Millisecond):
	}
}
