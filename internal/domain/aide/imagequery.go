package aide

// MinTimestampLastState is the min_timestamp marker meaning "since the
// most recent model state's creation time; if none, from epoch".
const MinTimestampLastState = "lastState"

// ImageQuerySpec is the fully-specified image-selection predicate an
// image-acquisition task executes: which images feed a training or
// inference run, how many, and how they are split across workers. It is
// attached to each task's kwargs at compile time so a worker runs the
// exact query the orchestrator decided on instead of reconstructing one
// from loose kwargs.
type ImageQuerySpec struct {
	TaskType TaskType `json:"task_type"`

	// MinTimestamp is MinTimestampLastState, an RFC 3339 timestamp, or
	// empty for "no lower bound".
	MinTimestamp string `json:"min_timestamp,omitempty"`

	IncludeGoldenQuestions bool `json:"include_golden_questions,omitempty"`
	GoldenQuestionsOnly    bool `json:"golden_questions_only,omitempty"`
	ForceUnlabeled         bool `json:"force_unlabeled,omitempty"`

	MinAnnoPerImage int `json:"min_anno_per_image,omitempty"`

	// MaxNumImages caps the selection; 0 or negative means no limit.
	MaxNumImages int `json:"max_num_images,omitempty"`

	// NumChunks is the worker count the selected images are split across.
	NumChunks int `json:"num_chunks"`
}

// ImageQueryFor derives the selection predicate from a task's resolved
// kwargs.
func ImageQueryFor(taskType TaskType, kwargs map[string]any, numWorkers int) ImageQuerySpec {
	spec := ImageQuerySpec{TaskType: taskType, NumChunks: numWorkers}
	if spec.NumChunks < 1 {
		spec.NumChunks = 1
	}

	if ts, ok := kwargs["min_timestamp"].(string); ok {
		spec.MinTimestamp = ts
	}
	if v, ok := kwargs["include_golden_questions"].(bool); ok {
		spec.IncludeGoldenQuestions = v
	}
	if v, ok := kwargs["golden_questions_only"].(bool); ok {
		spec.GoldenQuestionsOnly = v
	}
	if v, ok := kwargs["force_unlabeled"].(bool); ok {
		spec.ForceUnlabeled = v
	}
	spec.MinAnnoPerImage = intKwarg(kwargs["min_anno_per_image"])
	spec.MaxNumImages = intKwarg(kwargs["max_num_images"])
	return spec
}

func intKwarg(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// SplitEvenly partitions ids into n contiguous chunks whose sizes differ
// by at most one, the first len(ids) mod n chunks carrying the extra
// element. Empty chunks are omitted, so fewer than n chunks come back
// when there are fewer ids than workers.
func SplitEvenly(ids []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	size := len(ids) / n
	extra := len(ids) % n

	var out [][]string
	start := 0
	for i := 0; i < n && start < len(ids); i++ {
		end := start + size
		if i < extra {
			end++
		}
		if end == start {
			break
		}
		out = append(out, ids[start:end])
		start = end
	}
	return out
}
