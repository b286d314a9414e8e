// Package compiler implements the workflow compiler: it expands a
// submitted workflow document into a flat list of fully-resolved tasks and
// the dependency Graph wiring them together, grounded in
// workflow_designer.py's parse_workflow/get_training_signature/
// get_inference_signature.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

var validate = validator.New()

// ModelAdapter is the capability interface a discovered prediction model
// exposes for option self-checking, turning the runtime-introspected
// verifyOptions hook spec.md §9 asks for into an explicit interface
// rather than dynamic dispatch. A nil ModelAdapter (or a Compiler with no
// entry for a project's model library) means the model has no opinion and
// ai_model_settings passes through unexamined.
type ModelAdapter interface {
	// Verify reports whether the given options are acceptable to this
	// model. A false verdict does not abort compilation: the compiler
	// drops ai_model_settings and proceeds with the model's own
	// defaults, per spec.md §4.2's "option verification" rule.
	Verify(ctx context.Context, options map[string]any) (bool, error)
}

// Compiler turns a submitted Document into a CompiledWorkflow, filling in
// missing keyword arguments from the project's defaults and the built-in
// defaults, expanding repeaters into epoch-numbered tasks, clamping
// requested worker counts to what is actually available, and building the
// chain/group/chord Graph each task's kind implies.
type Compiler struct {
	// AvailableWorkers reports how many AIWorker processes are currently
	// listening, used to clamp max_num_workers the same way
	// WorkflowDesigner._get_num_available_workers does. An error (or a
	// nil func) resolves to 1 available worker, matching spec.md §4.2's
	// explicit "could not be resolved -> treat as 1" failure mode.
	AvailableWorkers func(ctx context.Context) (int, error)

	// ModelAdapters looks up a capability adapter by AI model library
	// key. A missing entry (nil map, or key not found) is treated as "no
	// opinion", not an error.
	ModelAdapters map[string]ModelAdapter
}

// New builds a Compiler.
func New(availableWorkers func(ctx context.Context) (int, error)) *Compiler {
	return &Compiler{AvailableWorkers: availableWorkers}
}

// Compile validates doc, expands its repeaters, fills in every task's
// keyword arguments, and builds the resulting task graph. When verifyOnly
// is true no Graph is built (Tasks is still populated) — the caller uses
// this to confirm a document compiles without side effects, per spec.md
// §4.2 step 6.
func (c *Compiler) Compile(ctx context.Context, doc *aide.Document, project *aide.Project, verifyOnly bool) (*aide.CompiledWorkflow, error) {
	if doc == nil || len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("%w: empty workflow", aide.ErrInvalidWorkflow)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrInvalidWorkflow, err)
	}

	expandedSpecs, err := expandRepeaters(doc)
	if err != nil {
		return nil, err
	}

	available := c.availableWorkers(ctx)

	flat, err := c.resolveTasks(ctx, expandedSpecs, doc, project, available)
	if err != nil {
		return nil, err
	}

	if verifyOnly {
		return &aide.CompiledWorkflow{Tasks: flat}, nil
	}

	chainSteps := make([]*aide.Graph, len(flat))
	for i, t := range flat {
		chainSteps[i] = graphFor(t, i == 0)
	}

	return &aide.CompiledWorkflow{Tasks: flat, Graph: aide.ChainOf(chainSteps...)}, nil
}

func (c *Compiler) availableWorkers(ctx context.Context) int {
	if c.AvailableWorkers == nil {
		return 1
	}
	n, err := c.AvailableWorkers(ctx)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// expandRepeaters resolves every TaskSpec id's position in the document,
// then splices num_repetitions extra copies of the [end_node, start_node]
// contiguous range in immediately after each repeater's start_node,
// processing repeaters in the forward order of their start nodes so an
// earlier splice's offset is already accounted for by the time a later
// one is applied (spec.md §4.2 step 3).
func expandRepeaters(doc *aide.Document) ([]aide.TaskSpec, error) {
	if len(doc.Repeaters) == 0 {
		return append([]aide.TaskSpec(nil), doc.Tasks...), nil
	}

	origIndex := make(map[string]int, len(doc.Tasks))
	for i, t := range doc.Tasks {
		if t.ID != "" {
			origIndex[t.ID] = i
		}
	}

	type resolved struct {
		spec      aide.RepeaterSpec
		startOrig int
	}
	repeaters := make([]resolved, 0, len(doc.Repeaters))
	for _, r := range doc.Repeaters {
		if r.NumRepetitions < 0 {
			return nil, fmt.Errorf("%w: repeater %q has negative num_repetitions", aide.ErrInvalidWorkflow, r.ID)
		}
		startIdx, ok := origIndex[r.StartNode]
		if !ok {
			return nil, fmt.Errorf("%w: repeater references unknown start_node %q", aide.ErrInvalidWorkflow, r.StartNode)
		}
		endIdx, ok := origIndex[r.EndNode]
		if !ok {
			return nil, fmt.Errorf("%w: repeater references unknown end_node %q", aide.ErrInvalidWorkflow, r.EndNode)
		}
		if endIdx > startIdx {
			return nil, fmt.Errorf("%w: repeater end_node %q must not come after start_node %q", aide.ErrInvalidWorkflow, r.EndNode, r.StartNode)
		}
		repeaters = append(repeaters, resolved{spec: r, startOrig: startIdx})
	}
	sort.Slice(repeaters, func(i, j int) bool { return repeaters[i].startOrig < repeaters[j].startOrig })

	expanded := append([]aide.TaskSpec(nil), doc.Tasks...)
	offset := 0
	for _, r := range repeaters {
		startIdx, endIdx := origIndex[r.spec.StartNode]+offset, origIndex[r.spec.EndNode]+offset
		subrange := append([]aide.TaskSpec(nil), expanded[endIdx:startIdx+1]...)

		var repeated []aide.TaskSpec
		for n := 0; n < r.spec.NumRepetitions; n++ {
			repeated = append(repeated, subrange...)
		}
		if len(repeated) == 0 {
			continue
		}

		out := make([]aide.TaskSpec, 0, len(expanded)+len(repeated))
		out = append(out, expanded[:startIdx+1]...)
		out = append(out, repeated...)
		out = append(out, expanded[startIdx+1:]...)
		expanded = out
		offset += len(repeated)
	}

	return expanded, nil
}

// resolveTasks walks the (already repeater-expanded) spec list, filling
// kwargs by precedence (existing value -> document options -> project
// default -> built-in default), clamping max_num_workers, and assigning
// the running epoch counter. It increments exactly once, before a train
// spec is assigned its epoch, and never for any other spec, so a training
// step and the steps immediately following it up to the next train share
// an epoch number (spec.md §4.2 step 4, §8 property 2).
func (c *Compiler) resolveTasks(ctx context.Context, specs []aide.TaskSpec, doc *aide.Document, project *aide.Project, available int) ([]aide.ExpandedTask, error) {
	flat := make([]aide.ExpandedTask, 0, len(specs))
	epoch := 0

	for _, spec := range specs {
		if aide.TaskReservedType[string(spec.Type)] {
			continue // repeater/connector nodes are bookkeeping only
		}
		if spec.Type != aide.TaskTrain && spec.Type != aide.TaskInference {
			return nil, fmt.Errorf("%w: unknown task type %q", aide.ErrInvalidWorkflow, spec.Type)
		}

		if spec.Type == aide.TaskTrain {
			epoch++
		}

		kwargs := aide.DefaultArgsFor(spec.Type)
		applyProjectDefaults(kwargs, spec.Type, project)
		for k, v := range doc.Options {
			kwargs[k] = v
		}
		for k, v := range spec.Kwargs {
			kwargs[k] = v
		}

		if err := c.verifyModelOptions(ctx, project, kwargs); err != nil {
			return nil, err
		}

		requested := intArg(kwargs["max_num_workers"], 1)
		numWorkers := requested
		if requested < 0 || requested > available {
			numWorkers = available
		}
		if numWorkers < 1 {
			numWorkers = 1
		}
		kwargs["max_num_workers"] = numWorkers

		// Unless the caller pre-bound an image list, hand the worker the
		// exact selection predicate its image-acquisition step must run.
		if _, prebound := kwargs["data"]; !prebound {
			kwargs["image_query"] = aide.ImageQueryFor(spec.Type, kwargs, numWorkers)
		}

		flat = append(flat, aide.ExpandedTask{
			Name:       fmt.Sprintf("%s#%d", taskName(spec), epoch),
			SourceID:   spec.ID,
			Type:       spec.Type,
			Kwargs:     kwargs,
			Epoch:      epoch,
			NumWorkers: numWorkers,
		})
	}

	for i := range flat {
		flat[i].NumEpochs = epoch
		flat[i].Kwargs["numEpochs"] = epoch
	}

	return flat, nil
}

func taskName(spec aide.TaskSpec) string {
	if spec.ID != "" {
		return spec.ID
	}
	return string(spec.Type)
}

// verifyModelOptions calls the project's registered ModelAdapter (if any)
// to self-check ai_model_settings. A negative verdict drops the setting
// rather than failing the workflow, the literal behavior spec.md §4.2
// documents for "option verification".
func (c *Compiler) verifyModelOptions(ctx context.Context, project *aide.Project, kwargs map[string]any) error {
	settings, ok := kwargs["ai_model_settings"]
	if !ok || project == nil || c.ModelAdapters == nil {
		return nil
	}
	adapter, ok := c.ModelAdapters[project.AIModelLibrary]
	if !ok || adapter == nil {
		return nil
	}
	opts, _ := settings.(map[string]any)
	valid, err := adapter.Verify(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: verify ai_model_settings: %v", aide.ErrModelVerificationFailed, err)
	}
	if !valid {
		delete(kwargs, "ai_model_settings")
	}
	return nil
}

// applyProjectDefaults overrides the built-in max_num_images default with
// the project's configured value, mirroring
// WorkflowDesigner._get_project_defaults.
func applyProjectDefaults(kwargs map[string]any, taskType aide.TaskType, project *aide.Project) {
	if project == nil {
		return
	}
	kwargs["min_anno_per_image"] = project.MinNumAnnoPerImage
	switch taskType {
	case aide.TaskTrain:
		if project.TrainMaxNumImages != 0 {
			kwargs["max_num_images"] = project.TrainMaxNumImages
		}
	case aide.TaskInference:
		if project.InferenceMaxNumImages != 0 {
			kwargs["max_num_images"] = project.InferenceMaxNumImages
		}
	}
}

func intArg(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// graphFor builds the Graph for one expanded task. Every task is preceded
// by an image-acquisition subgraph unless its kwargs already carry a
// pre-bound "data" image list; the very first task in the workflow
// additionally loads a fresh model state in parallel with that image
// listing, so get_training_images and call_update_model race rather than
// serialize (spec.md §4.2 step 5). The call itself is a plain single node
// for one worker, a worker group joined by an averaging callback for a
// multi-worker train step (get_training_signature's
// call_average_model_states chord), or a plain group for a multi-worker
// inference step (get_inference_signature has no join step).
func graphFor(t aide.ExpandedTask, isFirst bool) *aide.Graph {
	call := callGraphFor(t)

	if _, prebound := t.Kwargs["data"]; prebound {
		return call
	}

	imageAcq := aide.Single(t.Name + ".images")
	if isFirst {
		return aide.ChainOf(aide.GroupOf(imageAcq, aide.Single(t.Name+".model_update")), call)
	}
	return aide.ChainOf(imageAcq, call)
}

func callGraphFor(t aide.ExpandedTask) *aide.Graph {
	if t.NumWorkers <= 1 {
		return aide.Single(t.Name)
	}

	members := make([]*aide.Graph, t.NumWorkers)
	for i := range members {
		members[i] = aide.Single(fmt.Sprintf("%s.worker%d", t.Name, i))
	}

	if t.Type == aide.TaskTrain {
		return aide.ChordOf(aide.GroupOf(members...), aide.Single(t.Name+".average"))
	}
	return aide.GroupOf(members...)
}
