package aide

// TaskType enumerates the two AI task kinds a workflow task can expand to.
type TaskType string

const (
	TaskTrain     TaskType = "train"
	TaskInference TaskType = "inference"
)

// DefaultTrainArgs holds the built-in fallback keyword arguments applied to
// a train task when neither the submitted workflow nor the project's
// configured defaults supply a value.
var DefaultTrainArgs = map[string]any{
	"min_timestamp":            "lastState",
	"min_anno_per_image":       0,
	"include_golden_questions": false,
	"max_num_images":           -1,
	"max_num_workers":          -1,
}

// DefaultInferenceArgs holds the built-in fallback keyword arguments for an
// inference task.
var DefaultInferenceArgs = map[string]any{
	"force_unlabeled":       false,
	"golden_questions_only": false,
	"max_num_images":        -1,
	"max_num_workers":       -1,
}

// DefaultArgsFor returns a fresh copy of the built-in argument defaults for
// the given task type. Callers must not mutate the package-level maps.
func DefaultArgsFor(taskType TaskType) map[string]any {
	var src map[string]any
	switch taskType {
	case TaskTrain:
		src = DefaultTrainArgs
	case TaskInference:
		src = DefaultInferenceArgs
	default:
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// DefaultAutotrainWorkflow is the two-task train-then-infer workflow run by
// the annotation watchdog when a project has auto-training enabled but has
// not saved a custom workflow of its own.
func DefaultAutotrainWorkflow() *Document {
	return &Document{
		Tasks: []TaskSpec{
			{
				ID:   "default_train",
				Type: TaskTrain,
				Kwargs: map[string]any{
					"min_timestamp":            "lastState",
					"numEpochs":                1,
					"min_anno_per_image":       0,
					"include_golden_questions": true,
					"max_num_images":           0,
					"max_num_workers":          1,
				},
			},
			{
				ID:   "default_inference",
				Type: TaskInference,
				Kwargs: map[string]any{
					"force_unlabeled":       true,
					"golden_questions_only": false,
					"numEpochs":             1,
					"max_num_workers":       1,
				},
			},
		},
	}
}
