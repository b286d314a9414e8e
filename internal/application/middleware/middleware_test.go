package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/aidecore/internal/application/watchdog"
	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

type fakeProjects struct {
	project *aide.Project
	exists  bool
}

func (f *fakeProjects) Get(ctx context.Context, shortName string) (*aide.Project, error) {
	return f.project, nil
}
func (f *fakeProjects) Exists(ctx context.Context, shortName string) (bool, error) {
	return f.exists, nil
}
func (f *fakeProjects) UpdateLastState(ctx context.Context, shortName string, ts int64) error {
	return nil
}
func (f *fakeProjects) SetAutotrainEnabled(ctx context.Context, shortName string, enabled bool) error {
	return nil
}
func (f *fakeProjects) SetLabelClassAutoadaptEnabled(ctx context.Context, shortName string, enabled bool) error {
	return nil
}
func (f *fakeProjects) UpdateAISettings(ctx context.Context, shortName string, settings *aide.AIModelSettings) error {
	return nil
}

type fakeImages struct {
	annotated int
}

func (f *fakeImages) LabelingStats(ctx context.Context, shortName string, minAnnoPerImage int) (*aide.ImageLabelingStats, error) {
	return &aide.ImageLabelingStats{NumAnnotated: f.annotated}, nil
}
func (f *fakeImages) CountAvailable(ctx context.Context, shortName string, taskType aide.TaskType, maxNumImages int) (int, error) {
	return f.annotated, nil
}
func (f *fakeImages) CountEligible(ctx context.Context, shortName string, spec aide.ImageQuerySpec) (int, error) {
	return f.annotated, nil
}

type fakeWorkflows struct {
	saved map[string]*aide.SavedWorkflow
}

func (f *fakeWorkflows) Save(ctx context.Context, shortName string, wf *aide.SavedWorkflow) error {
	f.saved[wf.ID] = wf
	return nil
}
func (f *fakeWorkflows) Get(ctx context.Context, shortName, id string) (*aide.SavedWorkflow, error) {
	wf, ok := f.saved[id]
	if !ok {
		return nil, aide.ErrUnknownWorkflow
	}
	return wf, nil
}
func (f *fakeWorkflows) GetDefault(ctx context.Context, shortName string) (*aide.SavedWorkflow, error) {
	for _, wf := range f.saved {
		if wf.IsDefault {
			return wf, nil
		}
	}
	return nil, aide.ErrUnknownWorkflow
}
func (f *fakeWorkflows) List(ctx context.Context, shortName string) ([]*aide.SavedWorkflow, error) {
	out := make([]*aide.SavedWorkflow, 0, len(f.saved))
	for _, wf := range f.saved {
		out = append(out, wf)
	}
	return out, nil
}
func (f *fakeWorkflows) SetDefault(ctx context.Context, shortName, id string) error {
	if _, ok := f.saved[id]; !ok {
		return aide.ErrUnknownWorkflow
	}
	for _, wf := range f.saved {
		wf.IsDefault = wf.ID == id
	}
	return nil
}
func (f *fakeWorkflows) Delete(ctx context.Context, shortName, id string) error {
	delete(f.saved, id)
	return nil
}

type fakeModelStates struct {
	states     []*aide.ModelState
	duplicated [][2]string
}

func (f *fakeModelStates) Insert(ctx context.Context, shortName string, state *aide.ModelState) error {
	f.states = append(f.states, state)
	return nil
}
func (f *fakeModelStates) List(ctx context.Context, shortName string) ([]*aide.ModelState, error) {
	return f.states, nil
}
func (f *fakeModelStates) Latest(ctx context.Context, shortName string) (*aide.ModelState, error) {
	if len(f.states) == 0 {
		return nil, nil
	}
	return f.states[0], nil
}
func (f *fakeModelStates) Get(ctx context.Context, shortName, id string) (*aide.ModelState, error) {
	for _, s := range f.states {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, aide.ErrUnknownWorkflow
}
func (f *fakeModelStates) Delete(ctx context.Context, shortName, id string) error { return nil }
func (f *fakeModelStates) Duplicate(ctx context.Context, shortName, sourceID, newID string) error {
	f.duplicated = append(f.duplicated, [2]string{sourceID, newID})
	return nil
}

func TestCheckStatus_AssemblesRequestedSections(t *testing.T) {
	b := &scenarioBroker{availableN: 1}
	h := newScenarioHistory()
	m := newScenarioMiddleware(b, h, 2)

	projects := &fakeProjects{exists: true, project: &aide.Project{
		ShortName:          "proj1",
		AutotrainEnabled:   true,
		NumImagesAutotrain: 25,
	}}
	m.Projects = projects
	m.Images = &fakeImages{annotated: 17}
	m.Watchdogs = watchdog.NewManager(func(shortName string) *watchdog.ProjectWatchdog {
		return watchdog.New(shortName, projects, &fakeImages{},
			func(ctx context.Context, s string, doc *aide.Document) error { return nil },
			func(ctx context.Context, s string) error { return nil },
			nil, nil, time.Second, time.Minute, 100*time.Millisecond, nil)
	})
	defer m.Watchdogs.StopAll()

	report, err := m.CheckStatus(context.Background(), "proj1", StatusQuery{
		Project: true, Tasks: true, Workers: true,
	})
	require.NoError(t, err)

	require.NotNil(t, report.Project)
	assert.True(t, report.Project.AIAutoTrainingEnabled)
	assert.Equal(t, 17, report.Project.NumAnnotated)
	assert.Equal(t, 25, report.Project.NumNextTraining)

	assert.NotNil(t, report.Tasks)
	require.NotNil(t, report.Workers)
	assert.Equal(t, []string{"w0"}, report.Workers["AIWorker"])

	// The first status request lazily started the project's watchdog.
	assert.Contains(t, m.Watchdogs.Running(), "proj1")
}

func TestDuplicateModelState_SkipsWhenAlreadyLatest(t *testing.T) {
	b := &scenarioBroker{}
	h := newScenarioHistory()
	m := newScenarioMiddleware(b, h, 2)

	states := &fakeModelStates{states: []*aide.ModelState{
		{ID: "latest-state"},
		{ID: "older-state"},
	}}
	m.ModelStates = states

	id, err := m.DuplicateModelState(context.Background(), "proj1", "latest-state", true)
	require.NoError(t, err)
	assert.Equal(t, "latest-state", id)
	assert.Empty(t, states.duplicated)

	id, err = m.DuplicateModelState(context.Background(), "proj1", "older-state", true)
	require.NoError(t, err)
	assert.NotEqual(t, "older-state", id)
	require.Len(t, states.duplicated, 1)
	assert.Equal(t, "older-state", states.duplicated[0][0])
}

func TestDeleteWorkflowHistory_SkipsRunningUnlessRevokeRequested(t *testing.T) {
	b := &scenarioBroker{}
	h := newScenarioHistory()
	h.entries["running1"] = &aide.WorkflowHistoryEntry{
		ID:     "running1",
		Status: string(broker.StateStarted),
		Tasks:  []aide.TaskNode{{Name: "train#1", TaskID: "t-live"}},
	}
	h.entries["done1"] = &aide.WorkflowHistoryEntry{
		ID:     "done1",
		Status: string(broker.StateSuccess),
	}
	m := newScenarioMiddleware(b, h, 2)

	err := m.DeleteWorkflowHistory(context.Background(), "proj1", []string{"running1", "done1"}, false, false)
	require.NoError(t, err)
	assert.Contains(t, h.entries, "running1", "a running row must be skipped without the revoke flag")
	assert.NotContains(t, h.entries, "done1")

	err = m.DeleteWorkflowHistory(context.Background(), "proj1", []string{"running1"}, false, true)
	require.NoError(t, err)
	assert.NotContains(t, h.entries, "running1")
	assert.Contains(t, b.revoked, "t-live")
}

func TestDeleteWorkflow_EnforcesOwnership(t *testing.T) {
	b := &scenarioBroker{}
	h := newScenarioHistory()
	m := newScenarioMiddleware(b, h, 2)

	wfs := &fakeWorkflows{saved: map[string]*aide.SavedWorkflow{
		"wf-alice": {ID: "wf-alice", Username: "alice"},
		"wf-bob":   {ID: "wf-bob", Username: "bob"},
	}}
	m.Workflows = wfs

	deleted, err := m.DeleteWorkflow(context.Background(), "proj1", "alice", false, []string{"wf-alice", "wf-bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-alice"}, deleted)
	assert.Contains(t, wfs.saved, "wf-bob")

	deleted, err = m.DeleteWorkflow(context.Background(), "proj1", "alice", true, []string{"wf-bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-bob"}, deleted)
	assert.Empty(t, wfs.saved)
}
