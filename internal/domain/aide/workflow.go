package aide

import "encoding/json"

// Document is a submitted workflow: an ordered list of task specs, an
// optional map of repeater specs that duplicate a contiguous run of those
// specs, and a map of global option overrides applied ahead of any
// project or built-in default. Mirrors workflow_designer.py's
// parse_workflow input exactly, including the reserved "repeater" and
// "connector" task type strings, which compile to no-ops.
type Document struct {
	Tasks     []TaskSpec              `json:"tasks" validate:"required,min=1,dive"`
	Repeaters map[string]RepeaterSpec `json:"repeaters,omitempty" validate:"omitempty,dive"`
	Options   map[string]any          `json:"options,omitempty"`
}

// RepeaterSpec duplicates the contiguous run of task specs from
// end_node through start_node (inclusive, in original document order)
// num_repetitions times, splicing the copies in immediately after
// start_node. start_node and end_node may be equal, collapsing the
// repeated range to a single spec.
type RepeaterSpec struct {
	ID             string `json:"id"`
	Type           string `json:"type,omitempty" validate:"omitempty,oneof=repeater"`
	StartNode      string `json:"start_node" validate:"required"`
	EndNode        string `json:"end_node" validate:"required"`
	NumRepetitions int    `json:"num_repetitions" validate:"min=0"`
}

// TaskReservedType lists the task type strings that compile to a no-op
// rather than a broker task, reserved by the wire format for repeater and
// connector bookkeeping nodes that a caller's tooling may emit inline.
var TaskReservedType = map[string]bool{
	"repeater":  true,
	"connector": true,
}

// TaskSpec is a single node in a submitted workflow document: either a
// bare type name expanded from defaults, or an object carrying its own id
// and kwargs. UnmarshalJSON accepts both the bare-string shorthand
// ("train"/"inference") and the full object form the wire format
// documents.
type TaskSpec struct {
	ID     string         `json:"id"`
	Type   TaskType       `json:"type"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// UnmarshalJSON accepts either a bare type-name string or the full
// {id,type,kwargs} object, matching the wire format's "bare strings
// train/inference are accepted in tasks" rule.
func (t *TaskSpec) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		t.Type = TaskType(bare)
		return nil
	}

	type alias TaskSpec
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*t = TaskSpec(full)
	return nil
}

// ExpandedTask is a single fully-resolved task produced by the compiler:
// every keyword argument has been filled in according to the workflow's
// precedence rules, and a stable epoch index has been assigned.
type ExpandedTask struct {
	// Name is the caller task ID with its epoch suffix, e.g. "train#1".
	Name     string
	SourceID string
	Type     TaskType
	Kwargs   map[string]any
	Epoch    int
	// NumEpochs is set to the final epoch count reached by the whole
	// expanded task list, on every emitted spec, matching
	// workflow_designer.py's post-loop numEpochs assignment.
	NumEpochs int
	// NumWorkers is the resolved, clamped worker count for this task.
	NumWorkers int
}

// CompiledWorkflow is the result of compiling a Document against a
// project's defaults and current worker availability: a flat task list in
// submission order plus the Graph describing how they are wired together.
type CompiledWorkflow struct {
	Tasks []ExpandedTask
	Graph *Graph
}
