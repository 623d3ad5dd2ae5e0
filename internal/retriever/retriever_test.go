package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/chunker"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/tree"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m[text]; ok {
		return v, nil
	}
	return nil, errors.New("unknown query " + text)
}

func emb(x, y float32) map[string][]float32 { return map[string][]float32{"EMB": {x, y}} }

// sampleTree has four leaves, two summaries and a root.
func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr, err := tree.New([]*tree.Node{
		{Index: 0, Text: "apple pie", Embeddings: emb(1, 0)},
		{Index: 1, Text: "apple tart", Embeddings: emb(0.8, 0.6)},
		{Index: 2, Text: "car engine", Embeddings: emb(0, 1)},
		{Index: 3, Text: "car wheel", Embeddings: emb(0.6, 0.8)},
		{Index: 4, Text: "desserts", Embeddings: emb(0.9, 0.3), Children: []int{0, 1}, Layer: 1},
		{Index: 5, Text: "vehicles", Embeddings: emb(0.1, 1), Children: []int{2, 3}, Layer: 1},
		{Index: 6, Text: "everything", Embeddings: emb(0.7, 0.7), Children: []int{4, 5}, Layer: 2},
	})
	if err != nil {
		t.Fatalf("build sample tree: %v", err)
	}
	return tr
}

func newRetriever(t *testing.T) *Retriever {
	t.Helper()
	r, err := New(sampleTree(t), map[string]provider.Embedder{"EMB": mapEmbedder{
		"sweet":    {1, 0},
		"opposite": {-1, 0},
	}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func indices(res *Result) []int {
	out := make([]int, len(res.Nodes))
	for i, n := range res.Nodes {
		out[i] = n.Index
	}
	return out
}

func TestRetrieve_CollapsedTopK(t *testing.T) {
	r := newRetriever(t)
	opts := DefaultOptions("EMB")
	opts.TopK = 3

	res, err := r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 4, 1}, indices(res)); diff != "" {
		t.Errorf("selection (-want +got):\n%s", diff)
	}
	if want := "apple pie\n\ndesserts\n\napple tart"; res.Context != want {
		t.Errorf("expected context %q, got %q", want, res.Context)
	}
	if res.Nodes[1].Layer != 1 || res.Nodes[0].Score != 1 {
		t.Errorf("unexpected provenance: %+v", res.Nodes)
	}

	opts.TopK = 1
	res, err = r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].Index != 0 {
		t.Errorf("expected only node 0, got %v", indices(res))
	}
}

func TestRetrieve_TiesBreakToLowerIndex(t *testing.T) {
	tr, err := tree.New([]*tree.Node{
		{Index: 0, Text: "x", Embeddings: emb(1, 0)},
		{Index: 1, Text: "y", Embeddings: emb(1, 0)},
		{Index: 2, Text: "z", Embeddings: emb(1, 0), Children: []int{0, 1}, Layer: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, _ := New(tr, map[string]provider.Embedder{"EMB": mapEmbedder{"q": {2, 0}}}, nil)
	opts := DefaultOptions("EMB")
	opts.TopK = 2
	res, err := r.Retrieve(context.Background(), "q", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, indices(res)); diff != "" {
		t.Errorf("tie order (-want +got):\n%s", diff)
	}
}

func TestRetrieve_Threshold(t *testing.T) {
	r := newRetriever(t)
	opts := DefaultOptions("EMB")
	opts.SelectionMode = SelectThreshold
	opts.Threshold = 0.75

	res, err := r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 4, 1}, indices(res)); diff != "" {
		t.Errorf("selection (-want +got):\n%s", diff)
	}

	opts.Threshold = 0.5
	res, err = r.Retrieve(context.Background(), "opposite", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{2}, indices(res)); diff != "" {
		t.Errorf("expected single best fallback (-want +got):\n%s", diff)
	}
}

func TestRetrieve_Layered(t *testing.T) {
	r := newRetriever(t)
	opts := DefaultOptions("EMB")
	opts.CollapseTree = false
	opts.TopK = 1

	res, err := r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{6, 4, 0}, indices(res)); diff != "" {
		t.Errorf("descent (-want +got):\n%s", diff)
	}

	opts.StartLayer = 1
	opts.LayersToTraverse = 1
	res, err = r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{4}, indices(res)); diff != "" {
		t.Errorf("single layer (-want +got):\n%s", diff)
	}

	opts.StartLayer = 1
	opts.LayersToTraverse = 10
	opts.TopK = 2
	res, err = r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{4, 5, 0, 1}, indices(res)); diff != "" {
		t.Errorf("clamped descent (-want +got):\n%s", diff)
	}
}

func TestRetrieve_LayeredSelectionsFollowChildren(t *testing.T) {
	tr := sampleTree(t)
	r := newRetriever(t)
	opts := DefaultOptions("EMB")
	opts.CollapseTree = false
	opts.TopK = 1

	res, err := r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(res.Nodes); i++ {
		parent, _ := tr.Node(res.Nodes[i-1].Index)
		found := false
		for _, c := range parent.Children {
			if c == res.Nodes[i].Index {
				found = true
			}
		}
		if !found {
			t.Errorf("node %d is not a child of %d", res.Nodes[i].Index, parent.Index)
		}
	}
}

func TestRetrieve_TokenBudget(t *testing.T) {
	r := newRetriever(t)
	opts := DefaultOptions("EMB")

	// Two 2-token texts joined count as 5 tokens, not 4.
	opts.MaxTokens = 4
	res, err := r.Retrieve(context.Background(), "sweet", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{0}, indices(res)); diff != "" {
		t.Errorf("budgeted selection (-want +got):\n%s", diff)
	}

	for budget := 1; budget <= 20; budget++ {
		opts.MaxTokens = budget
		res, err := r.Retrieve(context.Background(), "sweet", opts)
		if err != nil {
			t.Fatalf("budget %d: unexpected error: %v", budget, err)
		}
		if n := chunker.EstimateTokens(res.Context); n > budget {
			t.Errorf("budget %d: context has %d tokens", budget, n)
		}
		if res.Tokens != chunker.EstimateTokens(res.Context) {
			t.Errorf("budget %d: reported %d tokens, counted %d", budget, res.Tokens, chunker.EstimateTokens(res.Context))
		}
	}
}

func TestRetrieve_Errors(t *testing.T) {
	if _, err := New(nil, nil, nil); !errors.Is(err, apperr.ErrRetrieverNotInitialized) {
		t.Errorf("expected ErrRetrieverNotInitialized, got %v", err)
	}

	r := newRetriever(t)
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"start layer too high", func(o *Options) { o.CollapseTree = false; o.StartLayer = 3 }},
		{"unknown model", func(o *Options) { o.ContextEmbeddingModel = "OTHER" }},
		{"unsupported mode", func(o *Options) { o.SelectionMode = "best" }},
		{"zero top_k", func(o *Options) { o.TopK = 0 }},
		{"zero budget", func(o *Options) { o.MaxTokens = 0 }},
		{"threshold range", func(o *Options) { o.SelectionMode = SelectThreshold; o.Threshold = 1.5 }},
		{"negative traversal", func(o *Options) { o.LayersToTraverse = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions("EMB")
			tt.mutate(&opts)
			if _, err := r.Retrieve(context.Background(), "sweet", opts); !apperr.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}

	opts := DefaultOptions("EMB")
	opts.LayersToTraverse = -1
	var cfgErr *apperr.ConfigurationError
	if err := opts.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "layers_to_traverse" {
		t.Errorf("expected layers_to_traverse ConfigurationError, got %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "unknown", DefaultOptions("EMB")); err == nil {
		t.Error("expected embedder failure to surface")
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := Cosine([]float32{2, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %f", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("expected 0 for zero vector, got %f", got)
	}
}
