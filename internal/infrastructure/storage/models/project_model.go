package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ProjectModel is a row in the admin schema's project table: the subset of
// an AIDE project's settings the orchestration core reads and writes.
// Everything else about a project (label classes, users, the annotation
// tables themselves) lives outside this module's scope.
type ProjectModel struct {
	bun.BaseModel `bun:"table:project,alias:p"`

	ShortName             string    `bun:"shortname,pk"`
	AIModelLibrary        string    `bun:"ai_model_library"`
	AIAlCriterion         string    `bun:"ai_al_criterion"`
	AnnotationType        string    `bun:"ai_annotation_type"`
	PredictionType        string    `bun:"ai_prediction_type"`
	MaxNumWorkers         int       `bun:"max_num_workers"`
	MaxNumConcurrent      int       `bun:"max_num_concurrent"`
	MinNumAnnoPerImage    int       `bun:"min_num_anno_per_image"`
	NumImagesAutotrain    int       `bun:"numimages_autotrain"`
	AutotrainEnabled      bool      `bun:"autotrain_enabled"`
	LabelClassAutoadaptEnabled bool `bun:"labelclass_autoadapt_enabled"`
	DefaultWorkflowID     string    `bun:"default_workflow_id"`
	TrainMaxNumImages     int       `bun:"train_max_num_images"`
	InferenceMaxNumImages int       `bun:"inference_max_num_images"`
	LastState             time.Time `bun:"last_state"`
}
