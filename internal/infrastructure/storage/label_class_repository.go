package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// LabelClassRepository queries a project's label class table: schema
// owned by AIDE's annotation system, read-mostly from this module's
// perspective. The one write path it supports is the hidden background
// class update_ai_model_settings auto-adds when a segmentation-mask
// project sets ignore_unlabeled to false, so that unlabeled pixels are
// treated as background, grounded in
// update_ai_model_settings's add_background_class branch.
type LabelClassRepository struct {
	db bun.IDB
}

// NewLabelClassRepository builds a LabelClassRepository.
func NewLabelClassRepository(db bun.IDB) *LabelClassRepository {
	return &LabelClassRepository{db: db}
}

type labelClassRow struct {
	Name   string `bun:"name"`
	Idx    int    `bun:"idx"`
	Hidden bool   `bun:"hidden"`
}

// HasBackgroundClass reports whether a label class already occupies
// index 0.
func (r *LabelClassRepository) HasBackgroundClass(ctx context.Context, shortName string) (bool, error) {
	var count int
	err := r.db.NewSelect().
		ColumnExpr("count(*)").
		ModelTableExpr("?", QualifiedTable(shortName, "labelclass")).
		Where("idx = 0").
		Scan(ctx, &count)
	if err != nil {
		return false, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return count > 0, nil
}

// Names returns every currently defined label class name, used to pick a
// unique name for an auto-added background class.
func (r *LabelClassRepository) Names(ctx context.Context, shortName string) ([]string, error) {
	var rows []labelClassRow
	err := r.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS lc", QualifiedTable(shortName, "labelclass")).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
	}
	return names, nil
}

// AddHiddenClass inserts a new hidden label class at the given index.
func (r *LabelClassRepository) AddHiddenClass(ctx context.Context, shortName, name string, idx int) error {
	row := labelClassRow{Name: name, Idx: idx, Hidden: true}
	_, err := r.db.NewInsert().
		Model(&row).
		ModelTableExpr("? AS lc", QualifiedTable(shortName, "labelclass")).
		Column("name", "idx", "hidden").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", aide.ErrStoreGone, err)
	}
	return nil
}
