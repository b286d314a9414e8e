package repository

import (
	"context"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// WorkflowRepository persists named, reusable workflow documents per
// project, mirroring AIDE's saved-workflow CRUD surface.
type WorkflowRepository interface {
	Save(ctx context.Context, shortName string, wf *aide.SavedWorkflow) error
	Get(ctx context.Context, shortName, id string) (*aide.SavedWorkflow, error)
	GetDefault(ctx context.Context, shortName string) (*aide.SavedWorkflow, error)
	List(ctx context.Context, shortName string) ([]*aide.SavedWorkflow, error)
	SetDefault(ctx context.Context, shortName, id string) error
	Delete(ctx context.Context, shortName, id string) error
}

// WorkflowHistoryRepository persists launched workflow runs: their
// dispatched task tree, status, and terminal result.
type WorkflowHistoryRepository interface {
	Insert(ctx context.Context, shortName string, entry *aide.WorkflowHistoryEntry) error
	Get(ctx context.Context, shortName, id string) (*aide.WorkflowHistoryEntry, error)
	Update(ctx context.Context, shortName string, entry *aide.WorkflowHistoryEntry) error
	ListActive(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error)
	// ListOrphaned returns runs previously failed by reconciliation (the
	// orphan verdict), the candidates for resurrection on a later sweep.
	ListOrphaned(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error)
	Delete(ctx context.Context, shortName, id string) error
	// DeleteFinished removes every terminal run, leaving active rows in
	// place — delete_workflow_history's default "skip running" behavior.
	DeleteFinished(ctx context.Context, shortName string) error
	DeleteAllForProject(ctx context.Context, shortName string) error
}

// ModelStateRepository persists trained model checkpoints.
type ModelStateRepository interface {
	Insert(ctx context.Context, shortName string, state *aide.ModelState) error
	List(ctx context.Context, shortName string) ([]*aide.ModelState, error)
	Latest(ctx context.Context, shortName string) (*aide.ModelState, error)
	// Get fetches a single checkpoint by ID, used by
	// get_model_training_stats to report a specific run's stats blob.
	Get(ctx context.Context, shortName, id string) (*aide.ModelState, error)
	Delete(ctx context.Context, shortName, id string) error
	Duplicate(ctx context.Context, shortName, sourceID, newID string) error
}
