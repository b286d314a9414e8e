package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage/models"
)

// WorkflowRepository persists saved workflow documents in a project's
// schema-qualified workflow table.
type WorkflowRepository struct {
	db bun.IDB
}

// NewWorkflowRepository builds a WorkflowRepository.
func NewWorkflowRepository(db bun.IDB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func documentToJSONB(doc *aide.Document) (models.JSONBMap, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m models.JSONBMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func jsonbToDocument(m models.JSONBMap) (*aide.Document, error) {
	raw, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	doc := new(aide.Document)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, shortName string, wf *aide.SavedWorkflow) error {
	doc, err := documentToJSONB(wf.Document)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", aide.ErrInvalidWorkflow, err)
	}

	m := &models.SavedWorkflowModel{
		ID:        wf.ID,
		Name:      wf.Name,
		Document:  doc,
		Username:  wf.Username,
		IsDefault: wf.IsDefault,
	}

	_, err = r.db.NewInsert().
		Model(m).
		ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("document = EXCLUDED.document").
		Set("username = EXCLUDED.username").
		Set("is_default = EXCLUDED.is_default").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *WorkflowRepository) Get(ctx context.Context, shortName, id string) (*aide.SavedWorkflow, error) {
	m := new(models.SavedWorkflowModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
		Where("w.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: workflow %q", aide.ErrUnknownWorkflow, id)
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return toSavedWorkflow(m)
}

func (r *WorkflowRepository) GetDefault(ctx context.Context, shortName string) (*aide.SavedWorkflow, error) {
	m := new(models.SavedWorkflowModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
		Where("w.is_default = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no default workflow", aide.ErrUnknownWorkflow)
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return toSavedWorkflow(m)
}

func (r *WorkflowRepository) List(ctx context.Context, shortName string) ([]*aide.SavedWorkflow, error) {
	var ms []*models.SavedWorkflowModel
	err := r.db.NewSelect().
		Model(&ms).
		ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}

	out := make([]*aide.SavedWorkflow, 0, len(ms))
	for _, m := range ms {
		sw, err := toSavedWorkflow(m)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, nil
}

func (r *WorkflowRepository) SetDefault(ctx context.Context, shortName, id string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
			Set("is_default = FALSE").
			Where("w.is_default = TRUE").
			Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
		}

		res, err := tx.NewUpdate().
			ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
			Set("is_default = TRUE").
			Where("w.id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: workflow %q", aide.ErrUnknownWorkflow, id)
		}
		return nil
	})
}

func (r *WorkflowRepository) Delete(ctx context.Context, shortName, id string) error {
	res, err := r.db.NewDelete().
		ModelTableExpr("? AS w", QualifiedTable(shortName, "workflow")).
		Where("w.id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: workflow %q", aide.ErrUnknownWorkflow, id)
	}
	return nil
}

func toSavedWorkflow(m *models.SavedWorkflowModel) (*aide.SavedWorkflow, error) {
	doc, err := jsonbToDocument(m.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", aide.ErrInvalidWorkflow, err)
	}
	return &aide.SavedWorkflow{
		ID:        m.ID,
		Name:      m.Name,
		Document:  doc,
		Username:  m.Username,
		IsDefault: m.IsDefault,
	}, nil
}
