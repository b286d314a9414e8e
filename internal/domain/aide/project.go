package aide

import "time"

// Project is the subset of an AIDE project's settings the orchestration
// core needs: its schema name, the AI model library it trains/infers
// with, and the knobs governing auto-training and admission.
type Project struct {
	ShortName string

	AIModelLibrary   string
	AIAlCriterion    string
	MaxNumWorkers    int
	MaxNumConcurrent int

	// AnnotationType and PredictionType gate get_available_ai_models:
	// only registry entries whose own annotation/prediction type match
	// the project's are offered to it.
	AnnotationType string
	PredictionType string

	// MinNumAnnoPerImage and NumImagesAutotrain gate the annotation
	// watchdog's auto-training threshold check.
	MinNumAnnoPerImage int
	NumImagesAutotrain int

	AutotrainEnabled bool

	// LabelClassAutoadaptEnabled governs whether a completed train task
	// is allowed to adapt its model to label-class changes made since
	// the prior run. set_labelclass_autoadapt_enabled refuses to turn
	// this off while the project's latest ModelState itself still has
	// autoupdate enabled.
	LabelClassAutoadaptEnabled bool

	// DefaultWorkflowID references a saved Workflow by ID, or empty to
	// fall back to DefaultAutotrainWorkflow.
	DefaultWorkflowID string

	// TrainMaxNumImages and InferenceMaxNumImages override the built-in
	// "-1 = unlimited" default for each task type.
	TrainMaxNumImages     int
	InferenceMaxNumImages int

	LastState time.Time
}

// AIModelSettings is the applied subset of a project's AI model settings
// update: nil fields are left unchanged. Blanking either library string
// force-disables the model.
type AIModelSettings struct {
	AIModelEnabled        *bool
	AIModelLibrary        *string
	AIAlCriterionLibrary  *string
	NumImagesAutotrain    *int
	MinNumAnnoPerImage    *int
	TrainMaxNumImages     *int
	InferenceMaxNumImages *int

	// SegmentationIgnoreUnlabeled, when explicitly set false on a
	// segmentation-mask project, causes a hidden "background" label class
	// to be added at index 0 so unlabeled pixels have a class to land in.
	SegmentationIgnoreUnlabeled *bool
}

// ModelState is one saved checkpoint of a project's AI model, produced by
// a completed train task.
type ModelState struct {
	ID          string
	Timestamp   time.Time
	ModelLib    string
	Stats       map[string]any
	IsAutotrain bool

	// LabelClassAutoupdate mirrors the original's per-checkpoint
	// "labelclass_autoupdate" flag: whether this checkpoint itself
	// supports adapting to label-class changes. set_labelclass_
	// autoadapt_enabled may only turn the project-level setting off
	// when the current (latest) state's flag is already false.
	LabelClassAutoupdate bool
}

// ImageLabelingStats is the image/annotation count snapshot the annotation
// watchdog compares against a project's autotrain threshold.
type ImageLabelingStats struct {
	NumAnnotated int
	NumTotal     int
}

// SavedWorkflow is a named workflow document a project has persisted for
// reuse, independent of any particular run. Username records the author
// that saved it, the ownership check delete_workflow enforces (only the
// owner or a superuser may delete a saved workflow).
type SavedWorkflow struct {
	ID        string
	Name      string
	Document  *Document
	Username  string
	IsDefault bool
}

// WorkflowHistoryEntry is a single launched (or launching) workflow run
// recorded for a project, tracking its dispatched task tree and terminal
// outcome. AbortedBy is set only when the run ended via revoke_task,
// distinguishing a user-cancelled run from one that failed or completed
// on its own.
type WorkflowHistoryEntry struct {
	ID          string
	LaunchedBy  string // empty for auto-launched (author IS NULL)
	AbortedBy   string
	TimeCreated time.Time
	TimeUpdated time.Time

	// TimeFinished is stamped exactly once, when the run reaches a
	// terminal status; reconciliation may null it again if the broker
	// reports the run's tasks alive after a premature orphan verdict.
	TimeFinished *time.Time

	// Workflow is the original submitted document, persisted verbatim so
	// a finished run can be relaunched or audited.
	Workflow *Document

	Tasks    []TaskNode
	Status   string
	Messages []string
	Result   map[string]any
}

// IsAutoLaunched reports whether this run has no human author, matching
// the original "author IS NULL" admission rule.
func (w WorkflowHistoryEntry) IsAutoLaunched() bool {
	return w.LaunchedBy == ""
}

// Succeeded reports the run's tri-state outcome: nil while running, true
// on success, false on failure or abort.
func (w WorkflowHistoryEntry) Succeeded() *bool {
	switch w.Status {
	case "SUCCESS":
		v := true
		return &v
	case "FAILURE", "REVOKED":
		v := false
		return &v
	default:
		return nil
	}
}
