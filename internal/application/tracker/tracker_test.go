package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

type fakeBroker struct {
	statuses    map[string]*broker.TaskStatus
	activeReads [][]string
	activeCall  int
	revoked     []string
	forgotten   []string
	revokeErr   error
}

func (f *fakeBroker) Submit(ctx context.Context, sub broker.Submission) error { return nil }
func (f *fakeBroker) Status(ctx context.Context, taskID string) (*broker.TaskStatus, error) {
	if s, ok := f.statuses[taskID]; ok {
		return s, nil
	}
	return nil, broker.ErrNotFound
}
func (f *fakeBroker) Revoke(ctx context.Context, taskID string) error {
	f.revoked = append(f.revoked, taskID)
	return f.revokeErr
}
func (f *fakeBroker) Forget(ctx context.Context, taskID string) error {
	f.forgotten = append(f.forgotten, taskID)
	return nil
}
func (f *fakeBroker) ActiveTaskIDs(ctx context.Context, queue string) ([]string, error) {
	if f.activeCall >= len(f.activeReads) {
		return nil, nil
	}
	out := f.activeReads[f.activeCall]
	f.activeCall++
	return out, nil
}
func (f *fakeBroker) AvailableWorkers(ctx context.Context, queue string) (int, error) { return 1, nil }
func (f *fakeBroker) WorkerIDs(ctx context.Context, queue string) ([]string, error) {
	return []string{"w0"}, nil
}

type fakeHistory struct {
	entries map[string]*aide.WorkflowHistoryEntry
	active  []*aide.WorkflowHistoryEntry
	updated []*aide.WorkflowHistoryEntry
}

func (f *fakeHistory) Insert(ctx context.Context, shortName string, e *aide.WorkflowHistoryEntry) error {
	f.entries[e.ID] = e
	return nil
}
func (f *fakeHistory) Get(ctx context.Context, shortName, id string) (*aide.WorkflowHistoryEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, aide.ErrUnknownWorkflow
	}
	return e, nil
}
func (f *fakeHistory) Update(ctx context.Context, shortName string, e *aide.WorkflowHistoryEntry) error {
	f.updated = append(f.updated, e)
	if f.entries == nil {
		f.entries = map[string]*aide.WorkflowHistoryEntry{}
	}
	f.entries[e.ID] = e
	return nil
}
func (f *fakeHistory) ListActive(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error) {
	return f.active, nil
}
func (f *fakeHistory) ListOrphaned(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error) {
	var out []*aide.WorkflowHistoryEntry
	for _, e := range f.entries {
		if e.Status == string(broker.StateFailure) && len(e.Messages) == 1 && e.Messages[0] == OrphanMessage {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeHistory) Delete(ctx context.Context, shortName, id string) error {
	delete(f.entries, id)
	return nil
}
func (f *fakeHistory) DeleteFinished(ctx context.Context, shortName string) error {
	for id, e := range f.entries {
		if broker.TaskState(e.Status).Terminal() {
			delete(f.entries, id)
		}
	}
	return nil
}
func (f *fakeHistory) DeleteAllForProject(ctx context.Context, shortName string) error {
	f.entries = map[string]*aide.WorkflowHistoryEntry{}
	return nil
}

func TestTracker_Poll_AllSuccessRollsUpToSuccessAndForgets(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{
		"t1": {TaskID: "t1", State: broker.StateSuccess},
	}}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Tasks: []aide.TaskNode{{Name: "train#0", TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	entry, err := tr.Poll(context.Background(), "proj1", "run1")
	require.NoError(t, err)
	assert.Equal(t, string(broker.StateSuccess), entry.Status)
	assert.Contains(t, fb.forgotten, "t1")
}

func TestTracker_Poll_AnyFailureRollsUpToFailure(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{
		"t1": {TaskID: "t1", State: broker.StateSuccess},
		"t2": {TaskID: "t2", State: broker.StateFailure},
	}}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Tasks: []aide.TaskNode{{Name: "a", TaskID: "t1"}, {Name: "b", TaskID: "t2"}}},
	}}

	tr := New(fb, fh, "aiworker")
	entry, err := tr.Poll(context.Background(), "proj1", "run1")
	require.NoError(t, err)
	assert.Equal(t, string(broker.StateFailure), entry.Status)
}

func TestTracker_Poll_StillRunningStaysCachedNotForgotten(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{
		"t1": {TaskID: "t1", State: broker.StateStarted},
	}}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Tasks: []aide.TaskNode{{Name: "a", TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	entry, err := tr.Poll(context.Background(), "proj1", "run1")
	require.NoError(t, err)
	assert.Equal(t, string(broker.StateStarted), entry.Status)
	assert.Empty(t, fb.forgotten)
}

func TestTracker_Poll_TerminalRunIsIdempotent(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{
		"t1": {TaskID: "t1", State: broker.StateSuccess},
	}}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Status: string(broker.StateRevoked), Tasks: []aide.TaskNode{{Name: "a", TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	entry, err := tr.Poll(context.Background(), "proj1", "run1")
	require.NoError(t, err)
	assert.Equal(t, string(broker.StateRevoked), entry.Status)
	assert.Empty(t, fb.forgotten, "an already-terminal run must not re-invoke broker forget")
	assert.Empty(t, fh.updated, "an already-terminal run must not be written back to the store")
}

func TestTracker_Revoke_CancelsEveryTaskInTree(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{}}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Tasks: []aide.TaskNode{
			{Name: "avg", TaskID: "t1", Children: []aide.TaskNode{{Name: "w0", TaskID: "t2"}}},
		}},
	}}

	tr := New(fb, fh, "aiworker")
	err := tr.Revoke(context.Background(), "proj1", "run1", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, fb.revoked)
	assert.Equal(t, "alice", fh.entries["run1"].AbortedBy)
}

func TestTracker_Revoke_MarksAbortedEvenWhenBrokerRevokeFails(t *testing.T) {
	fb := &fakeBroker{statuses: map[string]*broker.TaskStatus{}, revokeErr: errors.New("transport down")}
	fh := &fakeHistory{entries: map[string]*aide.WorkflowHistoryEntry{
		"run1": {ID: "run1", Tasks: []aide.TaskNode{{Name: "t", TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	err := tr.Revoke(context.Background(), "proj1", "run1", "alice")
	require.NoError(t, err)
	assert.Equal(t, string(broker.StateRevoked), fh.entries["run1"].Status)
}

func TestTracker_Reconcile_NoMismatchReturnsEmpty(t *testing.T) {
	fb := &fakeBroker{activeReads: [][]string{{"t1"}}}
	fh := &fakeHistory{active: []*aide.WorkflowHistoryEntry{
		{Tasks: []aide.TaskNode{{TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	res, err := tr.Reconcile(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Empty(t, res.Orphaned)
	assert.Empty(t, res.Resurrected)
}

func TestTracker_Reconcile_ResurrectedWinsOverOrphaned(t *testing.T) {
	fb := &fakeBroker{activeReads: [][]string{{}, {"t1"}}}
	fh := &fakeHistory{active: []*aide.WorkflowHistoryEntry{
		{Tasks: []aide.TaskNode{{TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	res, err := tr.Reconcile(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Empty(t, res.Orphaned)
	assert.Equal(t, []string{"t1"}, res.Resurrected)
}

func TestTracker_Reconcile_MissingFromBothReadsIsOrphaned(t *testing.T) {
	fb := &fakeBroker{activeReads: [][]string{{}, {}}}
	fh := &fakeHistory{active: []*aide.WorkflowHistoryEntry{
		{Tasks: []aide.TaskNode{{TaskID: "t1"}}},
	}}

	tr := New(fb, fh, "aiworker")
	res, err := tr.Reconcile(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Orphaned)
	assert.Empty(t, res.Resurrected)
}
