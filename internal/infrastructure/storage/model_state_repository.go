package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage/models"
)

// ModelStateRepository persists trained model checkpoints in a project's
// "cnnstate" table.
type ModelStateRepository struct {
	db bun.IDB
}

// NewModelStateRepository builds a ModelStateRepository.
func NewModelStateRepository(db bun.IDB) *ModelStateRepository {
	return &ModelStateRepository{db: db}
}

func (r *ModelStateRepository) Insert(ctx context.Context, shortName string, state *aide.ModelState) error {
	stats, err := toAnyMap(state.Stats)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrInvalidWorkflow, err)
	}
	m := &models.ModelStateModel{
		ID:                   state.ID,
		Timestamp:            state.Timestamp,
		ModelLib:             state.ModelLib,
		Stats:                stats,
		IsAutotrain:          state.IsAutotrain,
		LabelClassAutoupdate: state.LabelClassAutoupdate,
	}
	_, err = r.db.NewInsert().
		Model(m).
		ModelTableExpr("? AS cs", QualifiedTable(shortName, "cnnstate")).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *ModelStateRepository) List(ctx context.Context, shortName string) ([]*aide.ModelState, error) {
	var ms []*models.ModelStateModel
	err := r.db.NewSelect().
		Model(&ms).
		ModelTableExpr("? AS cs", QualifiedTable(shortName, "cnnstate")).
		OrderExpr("cs.timecreated DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	out := make([]*aide.ModelState, 0, len(ms))
	for _, m := range ms {
		out = append(out, toModelState(m))
	}
	return out, nil
}

func (r *ModelStateRepository) Latest(ctx context.Context, shortName string) (*aide.ModelState, error) {
	m := new(models.ModelStateModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS cs", QualifiedTable(shortName, "cnnstate")).
		OrderExpr("cs.timecreated DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return toModelState(m), nil
}

func (r *ModelStateRepository) Get(ctx context.Context, shortName, id string) (*aide.ModelState, error) {
	m := new(models.ModelStateModel)
	err := r.db.NewSelect().
		Model(m).
		ModelTableExpr("? AS cs", QualifiedTable(shortName, "cnnstate")).
		Where("cs.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: model state %q", aide.ErrUnknownWorkflow, id)
		}
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return toModelState(m), nil
}

func (r *ModelStateRepository) Delete(ctx context.Context, shortName, id string) error {
	_, err := r.db.NewDelete().
		ModelTableExpr("? AS cs", QualifiedTable(shortName, "cnnstate")).
		Where("cs.id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func (r *ModelStateRepository) Duplicate(ctx context.Context, shortName, sourceID, newID string) error {
	_, err := r.db.NewRaw(
		"INSERT INTO ? (id, timecreated, model_library, stats, is_autotrain, labelclass_autoupdate) "+
			"SELECT ?, now(), model_library, stats, is_autotrain, labelclass_autoupdate FROM ? WHERE id = ?",
		QualifiedTable(shortName, "cnnstate"), newID, QualifiedTable(shortName, "cnnstate"), sourceID,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}

func toModelState(m *models.ModelStateModel) *aide.ModelState {
	var stats map[string]any
	_ = fromJSONB(m.Stats, &stats)
	return &aide.ModelState{
		ID:                   m.ID,
		Timestamp:            m.Timestamp,
		ModelLib:             m.ModelLib,
		Stats:                stats,
		IsAutotrain:          m.IsAutotrain,
		LabelClassAutoupdate: m.LabelClassAutoupdate,
	}
}
