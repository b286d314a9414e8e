package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage/models"
)

// EnsureProjectTables creates this module's workflow/workflowhistory/
// cnnstate tables inside a project's existing schema, if they are not
// already present. A project's schema itself (and its image/annotation
// tables) is provisioned by AIDE's project-creation flow; this call only
// adds the orchestration core's own bookkeeping tables to it, run once
// when a project is first seen by this module.
func EnsureProjectTables(ctx context.Context, db bun.IDB, shortName string) error {
	stmts := []struct {
		model any
		table string
	}{
		{(*models.SavedWorkflowModel)(nil), "workflow"},
		{(*models.WorkflowHistoryModel)(nil), "workflowhistory"},
		{(*models.ModelStateModel)(nil), "cnnstate"},
	}

	for _, s := range stmts {
		_, err := db.NewCreateTable().
			Model(s.model).
			ModelTableExpr("?", QualifiedTable(shortName, s.table)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("%w: create %s.%s: %v", aide.ErrStoreGone, shortName, s.table, err)
		}
	}
	return nil
}
