// Package middleware implements the admission controller and the public
// operation surface (C6): launching, revoking, and inspecting workflows,
// saved-workflow and model-state CRUD, and the AI model registry,
// grounded in middleware.py's AIController class.
package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// scriptPattern strips <script>...</script> blocks from model-supplied
// free text before it is ever surfaced to a caller, the literal
// model.py's self.script_pattern re.sub("(script removed)") rather than
// a full HTML sanitizer — the original never parses markup, it only
// blanks script tags, so a regexp is the faithful (and sufficient) tool
// here, not an excuse to skip a library that pulls its own weight
// elsewhere.
var scriptPattern = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)

func stripScripts(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return scriptPattern.ReplaceAllString(s, "(script removed)")
}

// ModelClass is the capability interface a discoverable prediction or
// ranking model implementation exposes to the registry at bootstrap,
// standing in for the original's dynamically imported model module.
type ModelClass interface {
	Key() string
	Name() string
	Description() string
	Author() string
	AnnotationTypes() []string
	PredictionTypes() []string
	Requires() []string
}

// DefaultOptionsProvider is implemented by a ModelClass that can supply
// its own default options dict, mirroring getDefaultOptions().
type DefaultOptionsProvider interface {
	DefaultOptions() map[string]any
}

// OptionsVerifier is implemented by a ModelClass that can self-check a
// caller-supplied options dict, mirroring verifyOptions().
type OptionsVerifier interface {
	VerifyOptions(ctx context.Context, options map[string]any) (valid bool, warnings []string, errs []string)
}

// Instantiable is implemented by a ModelClass that can attempt to
// construct itself from a given options dict, the registry's fallback
// verification strategy when a model exposes no explicit verifier.
type Instantiable interface {
	Instantiate(ctx context.Context, options map[string]any) error
}

// ModelInfo is the sanitized, validated registry entry for one
// prediction or ranking model, surfaced by get_available_ai_models and
// get_ai_model_training_info.
type ModelInfo struct {
	Key             string
	Name            string
	Description     string
	Author          string
	AnnotationTypes []string
	PredictionTypes []string
	DefaultOptions  map[string]any
	IsRanker        bool
}

// Verification is the response shape verify_ai_model_options returns:
// {valid, warnings?, errors?}, never an exception (spec.md §7's
// ModelVerificationFailed kind).
type Verification struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// LibraryAvailable reports whether a named optional Python/Go dependency
// a model declares via Requires() is installed. The zero value (nil)
// means "assume everything is available" — this module never actually
// vendors model implementations, so there is nothing real to probe.
type LibraryAvailable func(name string) bool

// Registry is the frozen, post-bootstrap set of AI models and active-
// learning rankers this installation of the core can launch tasks
// against.
type Registry struct {
	predictions map[string]ModelInfo
	rankers     map[string]ModelInfo
	classes     map[string]ModelClass
}

// Bootstrap validates and sanitizes every discovered prediction and
// ranker class, dropping (with a warning) any that fails a required-
// library check or that ends up with no valid annotation/prediction
// type once unknown entries are filtered out, exactly the two-pass
// _check_prediction_model_details/_check_ranker_model_details sequence
// _init_available_ai_models runs once at startup.
func Bootstrap(predictions, rankers []ModelClass, libAvailable LibraryAvailable) (*Registry, []string) {
	if libAvailable == nil {
		libAvailable = func(string) bool { return true }
	}

	reg := &Registry{
		predictions: make(map[string]ModelInfo),
		rankers:     make(map[string]ModelInfo),
		classes:     make(map[string]ModelClass),
	}
	var warnings []string

	for _, mc := range predictions {
		info, warn, ok := checkModelDetails(mc, libAvailable, false)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("model %q unavailable: %s", mc.Key(), warn))
			continue
		}
		reg.predictions[mc.Key()] = info
		reg.classes[mc.Key()] = mc
	}

	for _, mc := range rankers {
		info, warn, ok := checkModelDetails(mc, libAvailable, true)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("ranker %q unavailable: %s", mc.Key(), warn))
			continue
		}
		reg.rankers[mc.Key()] = info
		reg.classes[mc.Key()] = mc
	}

	return reg, warnings
}

func checkModelDetails(mc ModelClass, libAvailable LibraryAvailable, isRanker bool) (ModelInfo, string, bool) {
	for _, req := range mc.Requires() {
		if !libAvailable(req) {
			return ModelInfo{}, fmt.Sprintf("required library %q not installed", req), false
		}
	}

	info := ModelInfo{
		Key:         mc.Key(),
		Name:        stripScripts(mc.Name(), mc.Key()),
		Description: stripScripts(mc.Description(), "(no description available)"),
		Author:      stripScripts(mc.Author(), "(unknown)"),
		IsRanker:    isRanker,
	}

	info.PredictionTypes = filterKnownTypes(mc.PredictionTypes())
	if len(info.PredictionTypes) == 0 {
		return ModelInfo{}, "missing or invalid predictionType", false
	}

	if !isRanker {
		info.AnnotationTypes = filterKnownTypes(mc.AnnotationTypes())
		if len(info.AnnotationTypes) == 0 {
			return ModelInfo{}, "missing or invalid annotationType", false
		}
	}

	if dp, ok := mc.(DefaultOptionsProvider); ok {
		info.DefaultOptions = dp.DefaultOptions()
	}

	return info, "", true
}

func filterKnownTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if aide.KnownAnnotationTypes[t] {
			out = append(out, t)
		}
	}
	return out
}

// Prediction looks up a registered prediction model by key.
func (r *Registry) Prediction(key string) (ModelInfo, bool) {
	m, ok := r.predictions[key]
	return m, ok
}

// Ranker looks up a registered ranking model by key.
func (r *Registry) Ranker(key string) (ModelInfo, bool) {
	m, ok := r.rankers[key]
	return m, ok
}

// All returns every registered model, the get_available_ai_models(
// project=None) response.
func (r *Registry) All() (predictions, rankers map[string]ModelInfo) {
	return r.predictions, r.rankers
}

// AvailableFor filters the prediction registry down to models compatible
// with a project's configured annotation and prediction type; rankers
// are never filtered, matching get_available_ai_models's own asymmetry.
func (r *Registry) AvailableFor(project *aide.Project) (predictions, rankers map[string]ModelInfo) {
	predictions = make(map[string]ModelInfo)
	for key, m := range r.predictions {
		if containsString(m.AnnotationTypes, project.AnnotationType) && containsString(m.PredictionTypes, project.PredictionType) {
			predictions[key] = m
		}
	}
	return predictions, r.rankers
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// VerifyOptions checks a model's options, preferring the model class's
// own OptionsVerifier; falling back to a best-effort Instantiate probe
// when the class exposes no verifier (verify_ai_model_options's own
// two-strategy fallback), and finally to an unconditional pass-with-
// warning when the class offers neither.
func (r *Registry) VerifyOptions(ctx context.Context, key string, options map[string]any) (*Verification, error) {
	info, ok := r.predictions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", aide.ErrUnknownModel, key)
	}
	mc := r.classes[key]

	if verifier, ok := mc.(OptionsVerifier); ok {
		valid, warnings, errs := verifier.VerifyOptions(ctx, options)
		return &Verification{Valid: valid, Warnings: warnings, Errors: errs}, nil
	}

	if inst, ok := mc.(Instantiable); ok {
		if err := inst.Instantiate(ctx, options); err != nil {
			return &Verification{Valid: false, Errors: []string{err.Error()}}, nil
		}
		return &Verification{
			Valid:    true,
			Warnings: []string{fmt.Sprintf("a %s instance could be launched, but the settings could not be verified", info.Name)},
		}, nil
	}

	return &Verification{
		Valid:    true,
		Warnings: []string{fmt.Sprintf("a %s instance could be launched, but the settings could not be verified", info.Name)},
	}, nil
}

// Adapter wraps one registry entry as a compiler.ModelAdapter, the seam
// the compiler's ai_model_settings self-check hooks through.
type Adapter struct {
	Registry *Registry
	Key      string
}

// Verify satisfies compiler.ModelAdapter.
func (a Adapter) Verify(ctx context.Context, options map[string]any) (bool, error) {
	v, err := a.Registry.VerifyOptions(ctx, a.Key, options)
	if err != nil {
		return false, err
	}
	return v.Valid, nil
}
