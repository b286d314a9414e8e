// Package repository declares the persistence interfaces the application
// layer depends on, kept separate from their bun-backed implementations in
// internal/infrastructure/storage.
package repository

import (
	"context"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// ProjectRepository reads and updates per-project settings stored in the
// admin schema.
type ProjectRepository interface {
	Get(ctx context.Context, shortName string) (*aide.Project, error)
	Exists(ctx context.Context, shortName string) (bool, error)
	UpdateLastState(ctx context.Context, shortName string, ts int64) error
	SetAutotrainEnabled(ctx context.Context, shortName string, enabled bool) error
	SetLabelClassAutoadaptEnabled(ctx context.Context, shortName string, enabled bool) error
	// UpdateAISettings applies the non-nil fields of an AI model settings
	// update to the project's admin row.
	UpdateAISettings(ctx context.Context, shortName string, settings *aide.AIModelSettings) error
}

// ImageRepository queries a project's schema-qualified image/annotation
// tables, used by the compiler to size image-acquisition tasks and by the
// watchdog to evaluate the autotrain threshold.
type ImageRepository interface {
	LabelingStats(ctx context.Context, shortName string, minAnnoPerImage int) (*aide.ImageLabelingStats, error)
	CountAvailable(ctx context.Context, shortName string, taskType aide.TaskType, maxNumImages int) (int, error)
	// CountEligible evaluates an image-acquisition predicate without
	// fetching the ids, the same query shape a worker's acquisition step
	// runs.
	CountEligible(ctx context.Context, shortName string, spec aide.ImageQuerySpec) (int, error)
}

// LabelClassRepository queries and amends a project's schema-qualified
// labelclass table. The orchestration core otherwise treats label classes
// as out of scope; the one exception is update_ai_model_settings's
// "segmentation_ignore_unlabeled" flag, which auto-adds a hidden
// background class when explicitly set false for a segmentation-mask
// project.
type LabelClassRepository interface {
	// HasBackgroundClass reports whether a project already has a label
	// class at index 0.
	HasBackgroundClass(ctx context.Context, shortName string) (bool, error)
	// Names returns every label class name currently defined, used to
	// pick a unique name for the auto-added background class.
	Names(ctx context.Context, shortName string) ([]string, error)
	// AddHiddenClass inserts a new hidden label class at index 0.
	AddHiddenClass(ctx context.Context, shortName, name string, idx int) error
}
