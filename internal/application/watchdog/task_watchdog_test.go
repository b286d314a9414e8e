package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

type watchdogFakeBroker struct {
	mu     sync.Mutex
	active []string
	reads  int
}

func (f *watchdogFakeBroker) Submit(ctx context.Context, sub broker.Submission) error { return nil }
func (f *watchdogFakeBroker) Status(ctx context.Context, taskID string) (*broker.TaskStatus, error) {
	return nil, broker.ErrNotFound
}
func (f *watchdogFakeBroker) Revoke(ctx context.Context, taskID string) error { return nil }
func (f *watchdogFakeBroker) Forget(ctx context.Context, taskID string) error { return nil }
func (f *watchdogFakeBroker) ActiveTaskIDs(ctx context.Context, queue string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.active, nil
}
func (f *watchdogFakeBroker) AvailableWorkers(ctx context.Context, queue string) (int, error) {
	return 1, nil
}
func (f *watchdogFakeBroker) WorkerIDs(ctx context.Context, queue string) ([]string, error) {
	return nil, nil
}

// TestTaskWatchdog_RefreshesSnapshotOnEachTick exercises the fixed-cadence
// broker snapshot loop: each tick it must re-read the live task set and
// expose it read-only, without mutating anything else.
func TestTaskWatchdog_RefreshesSnapshotOnEachTick(t *testing.T) {
	fb := &watchdogFakeBroker{active: []string{"t1", "t2"}}

	tw := NewTaskWatchdog(fb, "aiworker", nil)
	require.NoError(t, tw.Start(context.Background(), time.Second))
	defer tw.Stop()

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return fb.reads > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(tw.Snapshot()) == 2
	}, 3*time.Second, 50*time.Millisecond)
	assert.ElementsMatch(t, []string{"t1", "t2"}, tw.Snapshot())
}

func TestTaskWatchdog_SnapshotEmptyBeforeFirstRefresh(t *testing.T) {
	tw := NewTaskWatchdog(&watchdogFakeBroker{}, "aiworker", nil)
	assert.Empty(t, tw.Snapshot())
}
