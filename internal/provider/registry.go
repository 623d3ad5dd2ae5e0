package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgallion1/raptree/internal/apperr"
)

// Factory builds the capabilities one provider kind supports. A nil field
// means the kind cannot serve that role.
type Factory struct {
	Embedder   func(model string) (Embedder, error)
	Summarizer func(model string) (Summarizer, error)
	QA         func(model string) (QA, error)
}

// Registry resolves "kind:model" specs into providers once, at
// construction time.
type Registry struct {
	kinds map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Factory)}
}

// Register adds or replaces a provider kind.
func (r *Registry) Register(kind string, f Factory) {
	r.kinds[kind] = f
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Specs names the providers to resolve.
type Specs struct {
	Embedders  map[string]string // model name -> "kind:model"
	Summarizer string
	QA         string
}

// ParseSpec splits "kind:model". The model part may be empty.
func ParseSpec(spec string) (kind, model string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("empty provider spec")
	}
	kind, model, _ = strings.Cut(spec, ":")
	if kind == "" {
		return "", "", fmt.Errorf("provider spec %q has no kind", spec)
	}
	return kind, model, nil
}

// Resolve builds every provider named in specs. Failures are reported as
// configuration errors so construction fails fast.
func (r *Registry) Resolve(specs Specs) (*Set, Names, error) {
	set := &Set{Embedders: make(map[string]Embedder, len(specs.Embedders))}
	names := Names{
		Embedders:  make(map[string]string, len(specs.Embedders)),
		Summarizer: specs.Summarizer,
		QA:         specs.QA,
	}
	if len(specs.Embedders) == 0 {
		return nil, names, apperr.Configf("embedding_models", "at least one embedding model is required")
	}

	models := make([]string, 0, len(specs.Embedders))
	for m := range specs.Embedders {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		spec := specs.Embedders[m]
		f, model, err := r.lookup("embedding_models", spec)
		if err != nil {
			return nil, names, err
		}
		if f.Embedder == nil {
			return nil, names, apperr.Configf("embedding_models", "provider %q cannot embed", spec)
		}
		e, err := f.Embedder(model)
		if err != nil {
			return nil, names, apperr.Configf("embedding_models", "%s: %v", spec, err)
		}
		set.Embedders[m] = e
		names.Embedders[m] = spec
	}

	if specs.Summarizer != "" {
		f, model, err := r.lookup("summarization_model", specs.Summarizer)
		if err != nil {
			return nil, names, err
		}
		if f.Summarizer == nil {
			return nil, names, apperr.Configf("summarization_model", "provider %q cannot summarize", specs.Summarizer)
		}
		if set.Summarizer, err = f.Summarizer(model); err != nil {
			return nil, names, apperr.Configf("summarization_model", "%s: %v", specs.Summarizer, err)
		}
	}

	if specs.QA != "" {
		f, model, err := r.lookup("qa_model", specs.QA)
		if err != nil {
			return nil, names, err
		}
		if f.QA == nil {
			return nil, names, apperr.Configf("qa_model", "provider %q cannot answer questions", specs.QA)
		}
		if set.QA, err = f.QA(model); err != nil {
			return nil, names, apperr.Configf("qa_model", "%s: %v", specs.QA, err)
		}
	}
	return set, names, nil
}

func (r *Registry) lookup(field, spec string) (Factory, string, error) {
	kind, model, err := ParseSpec(spec)
	if err != nil {
		return Factory{}, "", apperr.Configf(field, "%v", err)
	}
	f, ok := r.kinds[kind]
	if !ok {
		return Factory{}, "", apperr.Configf(field, "unknown provider kind %q (known: %s)", kind, strings.Join(r.Kinds(), ", "))
	}
	return f, model, nil
}
