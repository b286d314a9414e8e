package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/smilemakc/aidecore/internal/application/compiler"
	"github.com/smilemakc/aidecore/internal/application/dispatch"
	"github.com/smilemakc/aidecore/internal/application/tracker"
	"github.com/smilemakc/aidecore/internal/application/watchdog"
	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/domain/repository"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

// WorkflowRef is a launch_task argument: either a saved workflow's ID, the
// literal "default", or an inline workflow document, mirroring
// launch_task's three-way Union[str, UUID, dict] parameter.
type WorkflowRef struct {
	ID      string
	Default bool
	Body    *aide.Document
}

// Middleware wires the compiler, dispatcher, tracker and admission
// control together into the public operation surface AIController
// exposed: launching and revoking runs, saved-workflow CRUD, model-state
// CRUD, and AI model registry queries, grounded in middleware.py's
// AIController class.
type Middleware struct {
	Compiler   *compiler.Compiler
	Dispatcher *dispatch.Dispatcher
	Tracker    *tracker.Tracker
	Admission  *Admission
	Registry   *Registry

	Projects     repository.ProjectRepository
	Workflows    repository.WorkflowRepository
	History      repository.WorkflowHistoryRepository
	ModelStates  repository.ModelStateRepository
	Images       repository.ImageRepository
	LabelClasses repository.LabelClassRepository

	// Watchdogs owns the per-project annotation watchdogs; CheckStatus
	// lazily starts a project's watchdog on first request and forwards
	// nudge/recheck flags to it. Nil disables watchdog integration.
	Watchdogs *watchdog.Manager

	Broker broker.Broker

	// Queue is the worker queue autotrain workflows and admission checks
	// are evaluated against, the same value the Dispatcher/Tracker use.
	Queue string
	// ControllerQueue is the queue AIController-class workers (image
	// acquisition, model-state update) advertise, reported alongside
	// Queue by GetAIModelTrainingInfo and consulted by WorkersOnline.
	ControllerQueue string
}

func (m *Middleware) project(ctx context.Context, shortName string) (*aide.Project, error) {
	return m.Projects.Get(ctx, shortName)
}

// resolveWorkflow turns a WorkflowRef into a concrete Document, the
// load-by-ID/load-default/inline-dict branch launch_task runs before
// ever reaching parse_workflow.
func (m *Middleware) resolveWorkflow(ctx context.Context, shortName string, ref WorkflowRef) (*aide.Document, error) {
	if ref.Body != nil {
		return ref.Body, nil
	}

	if ref.Default {
		saved, err := m.Workflows.GetDefault(ctx, shortName)
		if err != nil {
			return nil, err
		}
		return saved.Document, nil
	}

	saved, err := m.Workflows.Get(ctx, shortName, ref.ID)
	if err != nil {
		return nil, err
	}
	return saved.Document, nil
}

// LaunchTask compiles and dispatches a workflow for a project, refusing
// admission first per can_launch_task. launchedBy is empty for an
// auto-launched (author-less) run.
func (m *Middleware) LaunchTask(ctx context.Context, shortName string, ref WorkflowRef, launchedBy string) (*aide.WorkflowHistoryEntry, error) {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return nil, err
	}

	if err := m.Admission.CanLaunch(ctx, shortName, project, launchedBy == ""); err != nil {
		return nil, err
	}

	doc, err := m.resolveWorkflow(ctx, shortName, ref)
	if err != nil {
		return nil, err
	}

	cw, err := m.Compiler.Compile(ctx, doc, project, false)
	if err != nil {
		return nil, err
	}

	entry, err := m.Dispatcher.Launch(ctx, shortName, cw, doc, launchedBy)
	if err != nil {
		return nil, err
	}
	m.Tracker.Remember(shortName, entry)
	return entry, nil
}

// VerifyWorkflow compiles a workflow without dispatching it, the
// verify-only half of save_workflow's parse_workflow(..., verify_only=True)
// call.
func (m *Middleware) VerifyWorkflow(ctx context.Context, shortName string, doc *aide.Document) (*aide.CompiledWorkflow, error) {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return nil, err
	}
	return m.Compiler.Compile(ctx, doc, project, true)
}

// RevokeTask aborts one run, stamping who asked for it, grounded in
// revoke_task.
func (m *Middleware) RevokeTask(ctx context.Context, shortName, runID, abortedBy string) error {
	return m.Tracker.Revoke(ctx, shortName, runID, abortedBy)
}

// RevokeAllTasks aborts every currently active run for a project, the
// loop revoke_all_tasks runs over get_ongoing_tasks.
func (m *Middleware) RevokeAllTasks(ctx context.Context, shortName, abortedBy string) error {
	entries, err := m.History.ListActive(ctx, shortName)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.Tracker.Revoke(ctx, shortName, e.ID, abortedBy); err != nil {
			return err
		}
	}
	return nil
}

// PollTask polls a single run's status.
func (m *Middleware) PollTask(ctx context.Context, shortName, runID string) (*aide.WorkflowHistoryEntry, error) {
	return m.Tracker.Poll(ctx, shortName, runID)
}

// StatusQuery selects which sections a CheckStatus response carries and
// whether the project's annotation watchdog should be woken.
type StatusQuery struct {
	Project bool
	Tasks   bool
	Workers bool
	Nudge   bool
	Recheck bool
}

// ProjectStatus is the "project" section of a CheckStatus response.
type ProjectStatus struct {
	AIAutoTrainingEnabled bool `json:"ai_auto_training_enabled"`
	NumAnnotated          int  `json:"num_annotated"`
	NumNextTraining       int  `json:"num_next_training"`
}

// StatusReport is the CheckStatus response: only the requested sections
// are populated.
type StatusReport struct {
	Project *ProjectStatus               `json:"project,omitempty"`
	Tasks   []*aide.WorkflowHistoryEntry `json:"tasks,omitempty"`
	Workers map[string][]string          `json:"workers,omitempty"`
}

// CheckStatus assembles the requested status sections for a project,
// grounded in check_status's flag-driven response shape. Asking for any
// section lazily starts the project's annotation watchdog, and the nudge/
// recheck flags shorten its current back-off sleep ("someone is looking
// at the interface").
func (m *Middleware) CheckStatus(ctx context.Context, shortName string, query StatusQuery) (*StatusReport, error) {
	if m.Watchdogs != nil {
		m.Watchdogs.Ensure(shortName)
		if query.Nudge || query.Recheck {
			m.Watchdogs.Nudge(shortName, query.Recheck)
		}
	}

	report := &StatusReport{}

	if query.Project {
		project, err := m.project(ctx, shortName)
		if err != nil {
			return nil, err
		}
		status := &ProjectStatus{
			AIAutoTrainingEnabled: project.AutotrainEnabled,
			NumNextTraining:       project.NumImagesAutotrain,
		}
		if m.Images != nil {
			stats, err := m.Images.LabelingStats(ctx, shortName, project.MinNumAnnoPerImage)
			if err != nil {
				return nil, err
			}
			status.NumAnnotated = stats.NumAnnotated
		}
		report.Project = status
	}

	if query.Tasks {
		active, err := m.History.ListActive(ctx, shortName)
		if err != nil {
			return nil, err
		}
		tasks := make([]*aide.WorkflowHistoryEntry, 0, len(active))
		for _, e := range active {
			polled, err := m.Tracker.Poll(ctx, shortName, e.ID)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, polled)
		}
		report.Tasks = tasks
	}

	if query.Workers {
		controllers, err := m.Broker.WorkerIDs(ctx, m.ControllerQueue)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
		}
		workers, err := m.Broker.WorkerIDs(ctx, m.Queue)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
		}
		report.Workers = map[string][]string{
			"AIController": controllers,
			"AIWorker":     workers,
		}
	}

	return report, nil
}

// ListModelStates returns every trained checkpoint for a project, newest
// first, the shape list_model_states returns once stripped of the model-
// marketplace join this installation does not carry.
func (m *Middleware) ListModelStates(ctx context.Context, shortName string, latestOnly bool) ([]*aide.ModelState, error) {
	if latestOnly {
		latest, err := m.ModelStates.Latest(ctx, shortName)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, nil
		}
		return []*aide.ModelState{latest}, nil
	}
	return m.ModelStates.List(ctx, shortName)
}

// DeleteModelStates removes a set of model-state checkpoints.
func (m *Middleware) DeleteModelStates(ctx context.Context, shortName string, ids []string) error {
	for _, id := range ids {
		if err := m.ModelStates.Delete(ctx, shortName, id); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateModelState copies a model state with a fresh timestamp so it
// becomes the project's newest checkpoint, grounded in
// duplicate_model_state. With skipIfLatest set, duplicating the state
// that is already latest is a no-op returning its own id.
func (m *Middleware) DuplicateModelState(ctx context.Context, shortName, sourceID string, skipIfLatest bool) (string, error) {
	if skipIfLatest {
		latest, err := m.ModelStates.Latest(ctx, shortName)
		if err != nil {
			return "", err
		}
		if latest != nil && latest.ID == sourceID {
			return sourceID, nil
		}
	}
	newID := uuid.NewString()
	if err := m.ModelStates.Duplicate(ctx, shortName, sourceID, newID); err != nil {
		return "", err
	}
	return newID, nil
}

// SaveWorkflow validates and persists a workflow document under a name,
// optionally setting it as the project's default, grounded in
// save_workflow.
func (m *Middleware) SaveWorkflow(ctx context.Context, shortName, username string, doc *aide.Document, id, name string, setDefault bool) (*aide.SavedWorkflow, error) {
	if _, err := m.VerifyWorkflow(ctx, shortName, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrInvalidWorkflow, err)
	}

	if id == "" {
		id = uuid.NewString()
	}

	wf := &aide.SavedWorkflow{
		ID:       id,
		Name:     name,
		Document: doc,
		Username: username,
	}
	if err := m.Workflows.Save(ctx, shortName, wf); err != nil {
		return nil, err
	}

	if setDefault {
		if err := m.Workflows.SetDefault(ctx, shortName, wf.ID); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

// SetDefaultWorkflow points a project's autotrain default at an existing
// saved workflow, grounded in set_default_workflow.
func (m *Middleware) SetDefaultWorkflow(ctx context.Context, shortName, id string) error {
	return m.Workflows.SetDefault(ctx, shortName, id)
}

// DeleteWorkflow removes saved workflows, deleting only rows owned by
// username unless the caller is a superuser, grounded in
// delete_workflow's ownership predicate. Returns the ids actually
// deleted.
func (m *Middleware) DeleteWorkflow(ctx context.Context, shortName, username string, isSuperuser bool, ids []string) ([]string, error) {
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		saved, err := m.Workflows.Get(ctx, shortName, id)
		if err != nil {
			return deleted, err
		}
		if !isSuperuser && saved.Username != username {
			continue
		}
		if err := m.Workflows.Delete(ctx, shortName, id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// DeleteWorkflowHistory deletes run history rows (every row when all is
// set). Running rows are skipped unless revokeRunning is set, in which
// case they are revoked first, grounded in delete_workflow_history.
func (m *Middleware) DeleteWorkflowHistory(ctx context.Context, shortName string, ids []string, all, revokeRunning bool) error {
	activeSet := make(map[string]bool)
	active, err := m.History.ListActive(ctx, shortName)
	if err != nil {
		return err
	}
	for _, e := range active {
		activeSet[e.ID] = true
	}

	if all {
		if !revokeRunning {
			return m.History.DeleteFinished(ctx, shortName)
		}
		for _, e := range active {
			if err := m.Tracker.Revoke(ctx, shortName, e.ID, ""); err != nil {
				return err
			}
		}
		return m.History.DeleteAllForProject(ctx, shortName)
	}

	for _, id := range ids {
		if activeSet[id] {
			if !revokeRunning {
				continue
			}
			if err := m.Tracker.Revoke(ctx, shortName, id, ""); err != nil {
				return err
			}
		}
		if err := m.History.Delete(ctx, shortName, id); err != nil {
			return err
		}
	}
	return nil
}

// GetAvailableAIModels returns the prediction models compatible with a
// project's configured annotation/prediction type and every ranking
// model unfiltered, grounded in get_available_ai_models's own asymmetry
// between the two.
func (m *Middleware) GetAvailableAIModels(project *aide.Project) (predictions, rankers map[string]ModelInfo) {
	if project == nil {
		return m.Registry.All()
	}
	return m.Registry.AvailableFor(project)
}

// VerifyAIModelOptions checks whether model_options would be accepted by
// a given (or the project's configured) model library.
func (m *Middleware) VerifyAIModelOptions(ctx context.Context, shortName string, modelLibrary string, options map[string]any) (*Verification, error) {
	if modelLibrary == "" {
		project, err := m.project(ctx, shortName)
		if err != nil {
			return nil, err
		}
		modelLibrary = project.AIModelLibrary
	}
	return m.Registry.VerifyOptions(ctx, modelLibrary, options)
}

// UpdateAIModelSettings cross-checks and applies a project's AI model
// settings: the chosen prediction/ranking libraries must be registered,
// blanking either library string force-disables the model, and a
// segmentation-mask project that stops ignoring unlabeled pixels gets a
// hidden "background" label class added at index 0, grounded in
// update_ai_model_settings.
func (m *Middleware) UpdateAIModelSettings(ctx context.Context, shortName string, update *aide.AIModelSettings) (*Verification, error) {
	if update.AIModelLibrary != nil && *update.AIModelLibrary != "" {
		if _, ok := m.Registry.Prediction(*update.AIModelLibrary); !ok {
			return nil, fmt.Errorf("%w: %q is not a registered prediction model", aide.ErrUnknownModel, *update.AIModelLibrary)
		}
	}
	if update.AIAlCriterionLibrary != nil && *update.AIAlCriterionLibrary != "" {
		if _, ok := m.Registry.Ranker(*update.AIAlCriterionLibrary); !ok {
			return nil, fmt.Errorf("%w: %q is not a registered ranking model", aide.ErrUnknownModel, *update.AIAlCriterionLibrary)
		}
	}

	var warnings []string
	blankModel := update.AIModelLibrary != nil && *update.AIModelLibrary == ""
	blankCriterion := update.AIAlCriterionLibrary != nil && *update.AIAlCriterionLibrary == ""
	if blankModel || blankCriterion {
		disabled := false
		update.AIModelEnabled = &disabled
		warnings = append(warnings, "AI model disabled: no model library configured")
	}

	if err := m.Projects.UpdateAISettings(ctx, shortName, update); err != nil {
		return nil, err
	}

	if update.SegmentationIgnoreUnlabeled != nil && !*update.SegmentationIgnoreUnlabeled {
		if err := m.ensureBackgroundClass(ctx, shortName); err != nil {
			return nil, err
		}
	}

	return &Verification{Valid: true, Warnings: warnings}, nil
}

// ensureBackgroundClass adds a hidden label class at index 0 for
// segmentation-mask projects so unlabeled pixels map to a real class,
// picking a name not already taken.
func (m *Middleware) ensureBackgroundClass(ctx context.Context, shortName string) error {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return err
	}
	if project.AnnotationType != string(aide.AnnotationSegmentationMasks) &&
		project.PredictionType != string(aide.AnnotationSegmentationMasks) {
		return nil
	}
	if m.LabelClasses == nil {
		return nil
	}

	has, err := m.LabelClasses.HasBackgroundClass(ctx, shortName)
	if err != nil || has {
		return err
	}

	taken := make(map[string]bool)
	names, err := m.LabelClasses.Names(ctx, shortName)
	if err != nil {
		return err
	}
	for _, n := range names {
		taken[n] = true
	}
	name := "background"
	for i := 1; taken[name]; i++ {
		name = fmt.Sprintf("background (%d)", i)
	}
	return m.LabelClasses.AddHiddenClass(ctx, shortName, name, 0)
}

// LabelClassAutoadaptInfo is the get_labelclass_autoadapt_info response:
// whether the project setting and the current model checkpoint each have
// adaptation enabled, and whether the configured model library is even
// capable of it.
type LabelClassAutoadaptInfo struct {
	Project  bool
	Model    bool
	ModelLib bool
}

// GetLabelClassAutoadaptInfo reports a project's label-class adaptation
// state, grounded in get_labelclass_autoadapt_info.
func (m *Middleware) GetLabelClassAutoadaptInfo(ctx context.Context, shortName string) (*LabelClassAutoadaptInfo, error) {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return nil, err
	}

	info := &LabelClassAutoadaptInfo{Project: project.LabelClassAutoadaptEnabled}

	latest, err := m.ModelStates.Latest(ctx, shortName)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		info.Model = latest.LabelClassAutoupdate
	}
	if project.AIModelLibrary != "" {
		if _, ok := m.Registry.Prediction(project.AIModelLibrary); ok {
			info.ModelLib = true
		}
	}
	return info, nil
}

// SetLabelClassAutoadaptEnabled flips a project's label-class adaptation
// setting, refusing to disable it while the current model checkpoint
// still has adaptation enabled (once enabled on a checkpoint it cannot be
// walked back), grounded in set_labelclass_autoadapt_enabled.
func (m *Middleware) SetLabelClassAutoadaptEnabled(ctx context.Context, shortName string, enabled bool) (bool, error) {
	if !enabled {
		info, err := m.GetLabelClassAutoadaptInfo(ctx, shortName)
		if err != nil {
			return false, err
		}
		if info.Model {
			return false, nil
		}
	}

	if err := m.Projects.SetLabelClassAutoadaptEnabled(ctx, shortName, enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// LaunchAutoTrain adapts Middleware into a watchdog.Launcher closure: it
// dispatches the project's configured default workflow when one is set,
// falling back to the given document (normally DefaultAutotrainWorkflow),
// with no author — the auto-launched path the project watchdog drives.
func (m *Middleware) LaunchAutoTrain(ctx context.Context, shortName string, doc *aide.Document) error {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return err
	}
	ref := WorkflowRef{Body: doc}
	if project.DefaultWorkflowID != "" {
		ref = WorkflowRef{ID: project.DefaultWorkflowID}
	}
	_, err = m.LaunchTask(ctx, shortName, ref, "")
	return err
}

// AdmitAuto adapts Middleware into a watchdog.AdmissionChecker closure:
// it checks whether an auto-launched run may start right now without
// actually launching one.
func (m *Middleware) AdmitAuto(ctx context.Context, shortName string) error {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return err
	}
	return m.Admission.CanLaunch(ctx, shortName, project, true)
}

// WorkersOnline adapts Middleware into a watchdog.WorkerClassesOnline
// closure: it reports whether at least one AIController-queue worker and
// at least one AIWorker-queue worker are currently registered, the
// annotation watchdog's other auto-launch precondition alongside
// admission, grounded in the original's own worker-class check ahead of
// _should_launch_task.
func (m *Middleware) WorkersOnline(ctx context.Context) (bool, error) {
	controllers, err := m.Broker.AvailableWorkers(ctx, m.ControllerQueue)
	if err != nil {
		return false, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	workers, err := m.Broker.AvailableWorkers(ctx, m.Queue)
	if err != nil {
		return false, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return controllers > 0 && workers > 0, nil
}

// AIModelTrainingInfo is the get_ai_model_training_info response: the
// project's configured model library plus the worker ids currently
// registered per queue, grouped by the same two worker classes the
// annotation watchdog checks for.
type AIModelTrainingInfo struct {
	AIModelLibrary string              `json:"ai_model_library"`
	Workers        map[string][]string `json:"workers"`
}

// GetAIModelTrainingInfo reports a project's configured AI model library
// together with the live AIController/AIWorker worker ids, grounded in
// get_ai_model_training_info.
func (m *Middleware) GetAIModelTrainingInfo(ctx context.Context, shortName string) (*AIModelTrainingInfo, error) {
	project, err := m.project(ctx, shortName)
	if err != nil {
		return nil, err
	}

	controllers, err := m.Broker.WorkerIDs(ctx, m.ControllerQueue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	workers, err := m.Broker.WorkerIDs(ctx, m.Queue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}

	return &AIModelTrainingInfo{
		AIModelLibrary: project.AIModelLibrary,
		Workers: map[string][]string{
			"AIController": controllers,
			"AIWorker":     workers,
		},
	}, nil
}

// GetModelTrainingStats returns the stats blob recorded for a set of
// model-state checkpoints (or every checkpoint when ids is empty),
// grounded in get_model_training_stats.
func (m *Middleware) GetModelTrainingStats(ctx context.Context, shortName string, ids []string) ([]*aide.ModelState, error) {
	if len(ids) == 0 {
		return m.ModelStates.List(ctx, shortName)
	}
	out := make([]*aide.ModelState, 0, len(ids))
	for _, id := range ids {
		state, err := m.ModelStates.Get(ctx, shortName, id)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// Result renders an operation's (payload, error) pair as the status/
// message/payload envelope every public operation in this surface
// responds with.
func Result(payload any, err error) *aide.Result {
	if err != nil {
		return aide.FromError(err)
	}
	return aide.OK(payload)
}

// MarshalPayload is a convenience used by transports that need the raw
// JSON bytes of a Result rather than the struct itself.
func MarshalPayload(r *aide.Result) ([]byte, error) {
	return json.Marshal(r)
}
