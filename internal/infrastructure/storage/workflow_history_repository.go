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

// WorkflowHistoryRepository persists launched workflow runs, grounded in
// workflow_tracker.py's launch_workflow (insert) and poll_task_status
// (terminal update) against the "workflowhistory" table.
type WorkflowHistoryRepository struct {
	db bun.IDB
}

// NewWorkflowHistoryRepository builds a WorkflowHistoryRepository.
func NewWorkflowHistoryRepository(db bun.IDB) *WorkflowHistoryRepository {
	return &WorkflowHistoryRepository{db: db}
}

func toAnyMap(v any) (models.JSONBMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m models.JSONBMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromJSONB[T any](m models.JSONBMap, out *T) error {
	raw, err := json.Marshal(map[string]any(m))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func entryToModel(shortName string, e *aide.WorkflowHistoryEntry) (*models.WorkflowHistoryModel, error) {
	tasksWrapped := struct {
		Tasks []aide.TaskNode `json:"tasks"`
	}{Tasks: e.Tasks}
	tasksJSON, err := toAnyMap(tasksWrapped)
	if err != nil {
		return nil, err
	}
	resultJSON, err := toAnyMap(e.Result)
	if err != nil {
		return nil, err
	}
	var workflowJSON models.JSONBMap
	if e.Workflow != nil {
		workflowJSON, err = toAnyMap(e.Workflow)
		if err != nil {
			return nil, err
		}
	}
	return &models.WorkflowHistoryModel{
		ID:           e.ID,
		LaunchedBy:   e.LaunchedBy,
		AbortedBy:    e.AbortedBy,
		TimeCreated:  e.TimeCreated,
		TimeUpdated:  e.TimeUpdated,
		TimeFinished: e.TimeFinished,
		Workflow:     workflowJSON,
		Tasks:        tasksJSON,
		Status:       e.Status,
		Messages:     models.JSONBStrings(e.Messages),
		Result:       resultJSON,
	}, nil
}

func modelToEntry(m *models.WorkflowHistoryModel) (*aide.WorkflowHistoryEntry, error) {
	var tasksWrapped struct {
		Tasks []aide.TaskNode `json:"tasks"`
	}
	if err := fromJSONB(m.Tasks, &tasksWrapped); err != nil {
		return nil, fmt.Errorf("decode task tree: %w", err)
	}
	var result map[string]any
	if err := fromJSONB(m.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	var doc *aide.Document
	if len(m.Workflow) > 0 {
		doc = new(aide.Document)
		if err := fromJSONB(m.Workflow, doc); err != nil {
			return nil, fmt.Errorf("decode workflow document: %w", err)
		}
	}
	return &aide.WorkflowHistoryEntry{
		ID:           m.ID,
		LaunchedBy:   m.LaunchedBy,
		AbortedBy:    m.AbortedBy,
		TimeCreated:  m.TimeCreated,
		TimeUpdated:  m.TimeUpdated,
		TimeFinished: m.TimeFinished,
		Workflow:     doc,
		Tasks:        tasksWrapped.Tasks,
		Status:       m.Status,
		Messages:     []string(m.Messages),
		Result:       result,
	}, nil
}

func (r *WorkflowHistoryRepository) Insert(ctx context.Context, shortName string, entry *aide.WorkflowHistoryEntry) error {
	m, err := entryToModel(shortName, entry)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrInvalidWorkflow, err)
	}
	_, err = r.db.NewInsert().
		Model(m).
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *WorkflowHistoryRepository) Get(ctx context.Context, shortName, id string) (*aide.WorkflowHistoryEntry, error) {
	m := new(models.WorkflowHistoryModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("wh.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %q", aide.ErrUnknownWorkflow, id)
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return modelToEntry(m)
}

func (r *WorkflowHistoryRepository) Update(ctx context.Context, shortName string, entry *aide.WorkflowHistoryEntry) error {
	m, err := entryToModel(shortName, entry)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrInvalidWorkflow, err)
	}
	_, err = r.db.NewUpdate().
		Model(m).
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Column("tasks", "status", "result", "timeupdated", "timefinished", "messages", "abortedby").
		Where("wh.id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *WorkflowHistoryRepository) ListActive(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error) {
	var ms []*models.WorkflowHistoryModel
	err := r.db.NewSelect().
		Model(&ms).
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("wh.status NOT IN (?)", bun.In([]string{"SUCCESS", "FAILURE", "REVOKED"})).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	out := make([]*aide.WorkflowHistoryEntry, 0, len(ms))
	for _, m := range ms {
		e, err := modelToEntry(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *WorkflowHistoryRepository) ListOrphaned(ctx context.Context, shortName string) ([]*aide.WorkflowHistoryEntry, error) {
	var ms []*models.WorkflowHistoryModel
	err := r.db.NewSelect().
		Model(&ms).
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("wh.status = ?", "FAILURE").
		Where("wh.messages @> ?", `["Auto-launched task did not finish"]`).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	out := make([]*aide.WorkflowHistoryEntry, 0, len(ms))
	for _, m := range ms {
		e, err := modelToEntry(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *WorkflowHistoryRepository) Delete(ctx context.Context, shortName, id string) error {
	_, err := r.db.NewDelete().
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("wh.id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *WorkflowHistoryRepository) DeleteFinished(ctx context.Context, shortName string) error {
	_, err := r.db.NewDelete().
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("wh.status IN (?)", bun.In([]string{"SUCCESS", "FAILURE", "REVOKED"})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *WorkflowHistoryRepository) DeleteAllForProject(ctx context.Context, shortName string) error {
	_, err := r.db.NewDelete().
		ModelTableExpr("? AS wh", QualifiedTable(shortName, "workflowhistory")).
		Where("TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}
