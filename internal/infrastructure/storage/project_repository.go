package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage/models"
)

// ProjectRepository reads and updates project settings from the admin
// schema's project table, grounded in workflow_designer.py's
// _get_project_defaults query and middleware.py's _get_project_settings.
type ProjectRepository struct {
	db     bun.IDB
	schema string
}

// NewProjectRepository builds a ProjectRepository against the given admin
// schema (e.g. "aide_admin").
func NewProjectRepository(db bun.IDB, adminSchema string) *ProjectRepository {
	return &ProjectRepository{db: db, schema: adminSchema}
}

func (r *ProjectRepository) Get(ctx context.Context, shortName string) (*aide.Project, error) {
	m := new(models.ProjectModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS p", QualifiedTable(r.schema, "project")).
		Where("p.shortname = ?", shortName).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: project %q", aide.ErrStoreGone, shortName)
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}

	return &aide.Project{
		ShortName:                  m.ShortName,
		AIModelLibrary:             m.AIModelLibrary,
		AIAlCriterion:              m.AIAlCriterion,
		AnnotationType:             m.AnnotationType,
		PredictionType:             m.PredictionType,
		MaxNumWorkers:              m.MaxNumWorkers,
		MaxNumConcurrent:           m.MaxNumConcurrent,
		MinNumAnnoPerImage:         m.MinNumAnnoPerImage,
		NumImagesAutotrain:         m.NumImagesAutotrain,
		AutotrainEnabled:           m.AutotrainEnabled,
		LabelClassAutoadaptEnabled: m.LabelClassAutoadaptEnabled,
		DefaultWorkflowID:          m.DefaultWorkflowID,
		TrainMaxNumImages:          m.TrainMaxNumImages,
		InferenceMaxNumImages:      m.InferenceMaxNumImages,
		LastState:                  m.LastState,
	}, nil
}

// Exists checks for a project's schema the way annotation_watchdog.py's
// run() loop re-validates a project still exists before every iteration,
// by querying information_schema.tables rather than the admin table (a
// project can be mid-deletion with its schema gone but its admin row
// still present, or vice versa).
func (r *ProjectRepository) Exists(ctx context.Context, shortName string) (bool, error) {
	var count int
	err := r.db.NewSelect().
		ColumnExpr("count(*)").
		TableExpr("information_schema.tables").
		Where("table_schema = ?", shortName).
		Scan(ctx, &count)
	if err != nil {
		return false, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return count > 0, nil
}

func (r *ProjectRepository) UpdateLastState(ctx context.Context, shortName string, ts int64) error {
	_, err := r.db.NewUpdate().
		ModelTableExpr("? AS p", QualifiedTable(r.schema, "project")).
		Set("last_state = ?", time.Unix(ts, 0).UTC()).
		Where("p.shortname = ?", shortName).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *ProjectRepository) SetAutotrainEnabled(ctx context.Context, shortName string, enabled bool) error {
	_, err := r.db.NewUpdate().
		ModelTableExpr("? AS p", QualifiedTable(r.schema, "project")).
		Set("autotrain_enabled = ?", enabled).
		Where("p.shortname = ?", shortName).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *ProjectRepository) UpdateAISettings(ctx context.Context, shortName string, settings *aide.AIModelSettings) error {
	q := r.db.NewUpdate().
		ModelTableExpr("? AS p", QualifiedTable(r.schema, "project")).
		Where("p.shortname = ?", shortName)

	touched := false
	if settings.AIModelEnabled != nil {
		q = q.Set("autotrain_enabled = ?", *settings.AIModelEnabled)
		touched = true
	}
	if settings.AIModelLibrary != nil {
		q = q.Set("ai_model_library = ?", *settings.AIModelLibrary)
		touched = true
	}
	if settings.AIAlCriterionLibrary != nil {
		q = q.Set("ai_al_criterion = ?", *settings.AIAlCriterionLibrary)
		touched = true
	}
	if settings.NumImagesAutotrain != nil {
		q = q.Set("numimages_autotrain = ?", *settings.NumImagesAutotrain)
		touched = true
	}
	if settings.MinNumAnnoPerImage != nil {
		q = q.Set("min_num_anno_per_image = ?", *settings.MinNumAnnoPerImage)
		touched = true
	}
	if settings.TrainMaxNumImages != nil {
		q = q.Set("train_max_num_images = ?", *settings.TrainMaxNumImages)
		touched = true
	}
	if settings.InferenceMaxNumImages != nil {
		q = q.Set("inference_max_num_images = ?", *settings.InferenceMaxNumImages)
		touched = true
	}
	if !touched {
		return nil
	}

	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *ProjectRepository) SetLabelClassAutoadaptEnabled(ctx context.Context, shortName string, enabled bool) error {
	_, err := r.db.NewUpdate().
		ModelTableExpr("? AS p", QualifiedTable(r.schema, "project")).
		Set("labelclass_autoadapt_enabled = ?", enabled).
		Where("p.shortname = ?", shortName).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}
