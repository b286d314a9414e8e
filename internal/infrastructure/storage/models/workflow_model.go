package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SavedWorkflowModel is a row in a project schema's workflow table: a named
// workflow document a project has saved for reuse, analogous to AIDE's
// "saved workflow" concept surfaced through its project configuration UI.
type SavedWorkflowModel struct {
	bun.BaseModel `bun:"table:workflow,alias:w"`

	ID        string   `bun:"id,pk"`
	Name      string   `bun:"name"`
	Document  JSONBMap `bun:"document,type:jsonb"`
	Username  string   `bun:"username"`
	IsDefault bool     `bun:"is_default"`
}

// WorkflowHistoryModel is a row in a project schema's workflowhistory
// table: one launched run, its dispatched task tree, and its terminal
// outcome. This mirrors workflow_tracker.py's launch_workflow/
// poll_task_status persistence of the "workflowhistory" table.
type WorkflowHistoryModel struct {
	bun.BaseModel `bun:"table:workflowhistory,alias:wh"`

	ID           string       `bun:"id,pk"`
	LaunchedBy   string       `bun:"launchedby"`
	AbortedBy    string       `bun:"abortedby"`
	TimeCreated  time.Time    `bun:"timecreated"`
	TimeUpdated  time.Time    `bun:"timeupdated"`
	TimeFinished *time.Time   `bun:"timefinished,nullzero"`
	Workflow     JSONBMap     `bun:"workflow,type:jsonb"`
	Tasks        JSONBMap     `bun:"tasks,type:jsonb"`
	Status       string       `bun:"status"`
	Messages     JSONBStrings `bun:"messages,type:jsonb"`
	Result       JSONBMap     `bun:"result,type:jsonb"`
}

// ModelStateModel is a row in a project schema's cnnstate table: one saved
// AI model checkpoint produced by a completed train task.
type ModelStateModel struct {
	bun.BaseModel `bun:"table:cnnstate,alias:cs"`

	ID                   string    `bun:"id,pk"`
	Timestamp            time.Time `bun:"timecreated"`
	ModelLib             string    `bun:"model_library"`
	Stats                JSONBMap  `bun:"stats,type:jsonb"`
	IsAutotrain          bool      `bun:"is_autotrain"`
	LabelClassAutoupdate bool      `bun:"labelclass_autoupdate"`
}
