package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/builder"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/provider/local"
	"github.com/dgallion1/raptree/internal/retriever"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func localProviders(qa bool) *provider.Set {
	s := &provider.Set{
		Embedders:  map[string]provider.Embedder{"EMB": local.HashEmbedder{Dim: 256}},
		Summarizer: local.FrequencySummarizer{},
	}
	if qa {
		s.QA = local.ExtractiveQA{}
	}
	return s
}

func testConfig() Config {
	bc := builder.DefaultConfig("EMB")
	bc.ChunkMaxTokens = 1
	return Config{
		Builder:      bc,
		Retrieve:     retriever.DefaultOptions("EMB"),
		JobWorkers:   1,
		MaxQueueSize: 4,
		JobTTL:       time.Hour,
	}
}

func newTestOrchestrator(t *testing.T, qa bool) *Orchestrator {
	t.Helper()
	return newOrchestratorWith(t, testConfig(), qa)
}

func newOrchestratorWith(t *testing.T, cfg Config, qa bool) *Orchestrator {
	t.Helper()
	o, err := New(cfg, localProviders(qa), WithLogger(quietLog()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func TestNew_ConfigErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieve.ContextEmbeddingModel = "OTHER"
	if _, err := New(cfg, localProviders(false), WithLogger(quietLog())); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for unknown context model, got %v", err)
	}

	cfg = testConfig()
	cfg.Builder.ClusterEmbeddingModel = "OTHER"
	if _, err := New(cfg, localProviders(false), WithLogger(quietLog())); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for unknown cluster model, got %v", err)
	}

	cfg = testConfig()
	cfg.Retrieve.TopK = 0
	if _, err := New(cfg, localProviders(false), WithLogger(quietLog())); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for top_k 0, got %v", err)
	}

	if _, err := New(testConfig(), nil); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for missing providers, got %v", err)
	}
}

func TestOrchestrator_NotReady(t *testing.T) {
	o := newTestOrchestrator(t, true)
	ctx := context.Background()

	if err := o.Persist(ctx, filepath.Join(t.TempDir(), "tree.json")); !errors.Is(err, apperr.ErrTreeNotInitialized) {
		t.Errorf("expected ErrTreeNotInitialized from Persist, got %v", err)
	}
	if _, err := o.Retrieve(ctx, "q", o.DefaultRetrieveOptions()); !errors.Is(err, apperr.ErrOrchestratorNotReady) {
		t.Errorf("expected ErrOrchestratorNotReady from Retrieve, got %v", err)
	}
	if _, err := o.Answer(ctx, "q", o.DefaultRetrieveOptions()); !apperr.IsNotReady(err) {
		t.Errorf("expected not-ready error from Answer, got %v", err)
	}
	if _, err := o.TreeInfo(); !errors.Is(err, apperr.ErrTreeNotInitialized) {
		t.Errorf("expected ErrTreeNotInitialized from TreeInfo, got %v", err)
	}
	if _, err := o.NodesInfo(); !errors.Is(err, apperr.ErrTreeNotInitialized) {
		t.Errorf("expected ErrTreeNotInitialized from NodesInfo, got %v", err)
	}
	if err := o.Delete(); !errors.Is(err, apperr.ErrTreeNotInitialized) {
		t.Errorf("expected ErrTreeNotInitialized from Delete, got %v", err)
	}
}

func TestOrchestrator_AddThreeSentences(t *testing.T) {
	o := newTestOrchestrator(t, true)
	info, err := o.Add(context.Background(), "A. B. C.", AddOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := TreeInfo{NumLayers: 2, TotalNodes: 4, LeafNodeCount: 3, SummaryNodeCount: 1}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("tree info (-want +got):\n%s", diff)
	}

	nodes, err := o.NodesInfo()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var leaves []string
	for _, n := range nodes.LeafNodes {
		leaves = append(leaves, n.Text)
	}
	if diff := cmp.Diff([]string{"A.", "B.", "C."}, leaves); diff != "" {
		t.Errorf("leaves (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, nodes.SummaryNodes[1][0].Children); diff != "" {
		t.Errorf("root children (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_AddRequiresConsent(t *testing.T) {
	o := newTestOrchestrator(t, false)
	ctx := context.Background()
	if _, err := o.Add(ctx, "First. Second.", AddOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := o.Tree()

	if _, err := o.Add(ctx, "Other. Text. Here.", AddOptions{}); !errors.Is(err, apperr.ErrOverwriteRequired) {
		t.Fatalf("expected ErrOverwriteRequired, got %v", err)
	}
	var asked TreeInfo
	_, err := o.Add(ctx, "Other. Text. Here.", AddOptions{Confirm: func(ti TreeInfo) bool {
		asked = ti
		return false
	}})
	if !errors.Is(err, apperr.ErrOverwriteRequired) {
		t.Fatalf("expected ErrOverwriteRequired after refusal, got %v", err)
	}
	if asked.LeafNodeCount != 2 {
		t.Errorf("expected confirm to see 2 leaves, got %+v", asked)
	}
	if o.Tree() != before {
		t.Error("expected existing tree to be unchanged without consent")
	}

	if _, err := o.Add(ctx, "Other. Text. Here.", AddOptions{Confirm: func(TreeInfo) bool { return true }}); err != nil {
		t.Fatalf("unexpected error with consent: %v", err)
	}
	if info, _ := o.TreeInfo(); info.LeafNodeCount != 3 {
		t.Errorf("expected replaced tree with 3 leaves, got %+v", info)
	}
}

func TestOrchestrator_AddEmptyKeepsTree(t *testing.T) {
	o := newTestOrchestrator(t, false)
	ctx := context.Background()
	if _, err := o.Add(ctx, "   ", AddOptions{}); !errors.Is(err, apperr.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if o.Tree() != nil {
		t.Error("expected no tree after failed build")
	}
}

func TestOrchestrator_AddProgress(t *testing.T) {
	o := newTestOrchestrator(t, false)
	var layers []int
	_, err := o.Add(context.Background(), "A. B. C.", AddOptions{Progress: func(p builder.Progress) {
		layers = append(layers, p.Layer)
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, layers); diff != "" {
		t.Errorf("progress layers (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_RetrieveAndAnswer(t *testing.T) {
	cfg := testConfig()
	cfg.Builder.ChunkMaxTokens = 8 // one sentence per leaf
	o := newOrchestratorWith(t, cfg, true)
	ctx := context.Background()
	text := "Cats purr when content. Dogs bark at strangers. Parrots mimic human speech."
	if _, err := o.Add(ctx, text, AddOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opts := o.DefaultRetrieveOptions()
	opts.TopK = 1
	res, err := o.Retrieve(ctx, "Which animal will bark at strangers?", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Nodes) != 1 || !strings.Contains(res.Context, "Dogs bark") {
		t.Errorf("expected the dog sentence, got %q (%+v)", res.Context, res.Nodes)
	}

	ans, err := o.Answer(ctx, "Which animal will bark at strangers?", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(ans.Answer, "Dogs") {
		t.Errorf("expected answer about dogs, got %q", ans.Answer)
	}
	if ans.Context != res.Context {
		t.Errorf("expected answer context %q, got %q", res.Context, ans.Context)
	}
}

// gatedSummarizer blocks summaries while armed until release is closed.
type gatedSummarizer struct {
	provider.Summarizer
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSummarizer) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	if g.armed.Load() {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.Summarizer.Summarize(ctx, texts, maxTokens)
}

func TestOrchestrator_ReadersSeePriorTreeDuringBuild(t *testing.T) {
	cfg := testConfig()
	cfg.Builder.ChunkMaxTokens = 8
	gate := &gatedSummarizer{
		Summarizer: local.FrequencySummarizer{},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	set := localProviders(false)
	set.Summarizer = gate
	o, err := New(cfg, set, WithLogger(quietLog()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	before, err := o.Add(ctx, "Cats purr when content. Dogs bark at strangers.", AddOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gate.armed.Store(true)
	type result struct {
		info TreeInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := o.Add(ctx, "Owls hunt at night. Bees make honey. Whales sing songs.", AddOptions{Overwrite: true})
		done <- result{info, err}
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("build never reached summarization")
	}

	info, err := o.TreeInfo()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(before, info); diff != "" {
		t.Errorf("tree changed mid-build (-before +during):\n%s", diff)
	}
	res, err := o.Retrieve(ctx, "Which animal will bark at strangers?", o.DefaultRetrieveOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Context, "Dogs bark") || strings.Contains(res.Context, "Owls") {
		t.Errorf("expected context from the prior tree, got %q", res.Context)
	}

	close(gate.release)
	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("build did not finish after release")
	}
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.info.LeafNodeCount != 3 {
		t.Errorf("expected 3 leaves in the new tree, got %+v", r.info)
	}
	if info, _ := o.TreeInfo(); info != r.info {
		t.Errorf("expected new tree %+v to be current, got %+v", r.info, info)
	}
	res, err = o.Retrieve(ctx, "Which insect will make honey?", o.DefaultRetrieveOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Context, "Bees") || strings.Contains(res.Context, "Dogs") {
		t.Errorf("expected context from the new tree, got %q", res.Context)
	}
}

func TestOrchestrator_AnswerWithoutQA(t *testing.T) {
	o := newTestOrchestrator(t, false)
	if _, err := o.Add(context.Background(), "One. Two.", AddOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ce *apperr.ConfigurationError
	if _, err := o.Answer(context.Background(), "q", o.DefaultRetrieveOptions()); !errors.As(err, &ce) || ce.Field != "qa_model" {
		t.Errorf("expected qa_model ConfigurationError, got %v", err)
	}
}

func TestOrchestrator_PersistRestore(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"tree.json", "trees.db#main"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			src := newTestOrchestrator(t, false)
			if _, err := src.Add(ctx, "Alpha beta. Gamma delta. Epsilon.", AddOptions{}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := src.Persist(ctx, path); err != nil {
				t.Fatalf("persist: %v", err)
			}

			dst := newTestOrchestrator(t, false)
			info, err := dst.Restore(ctx, path)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			want, _ := src.TreeInfo()
			if diff := cmp.Diff(want, info); diff != "" {
				t.Errorf("restored info (-want +got):\n%s", diff)
			}
			srcNodes, _ := src.NodesInfo()
			dstNodes, _ := dst.NodesInfo()
			if diff := cmp.Diff(srcNodes, dstNodes); diff != "" {
				t.Errorf("restored nodes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOrchestrator_RestoreModelMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.json")
	src := newTestOrchestrator(t, false)
	if _, err := src.Add(ctx, "One. Two.", AddOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := src.Persist(ctx, path); err != nil {
		t.Fatalf("persist: %v", err)
	}

	cfg := testConfig()
	cfg.Builder.ClusterEmbeddingModel = "OTHER"
	cfg.Retrieve.ContextEmbeddingModel = "OTHER"
	providers := &provider.Set{
		Embedders:  map[string]provider.Embedder{"OTHER": local.HashEmbedder{Dim: 8}},
		Summarizer: local.FrequencySummarizer{},
	}
	dst, err := New(cfg, providers, WithLogger(quietLog()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dst.Restore(ctx, path); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
	if dst.Tree() != nil {
		t.Error("expected no tree after rejected restore")
	}
}

func TestOrchestrator_UpdateNodeTextAndDelete(t *testing.T) {
	o := newTestOrchestrator(t, false)
	if _, err := o.Add(context.Background(), "A. B. C.", AddOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := o.Tree()
	if err := o.UpdateNodeText(1, "Bee."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes, _ := o.NodesInfo()
	if nodes.LeafNodes[1].Text != "Bee." {
		t.Errorf("expected updated text, got %q", nodes.LeafNodes[1].Text)
	}
	if n, _ := before.Node(1); n.Text != "B." {
		t.Errorf("expected previous tree untouched, got %q", n.Text)
	}
	if err := o.UpdateNodeText(99, "x"); !errors.Is(err, apperr.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
	if err := o.UpdateNodeText(0, " "); !apperr.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for blank text, got %v", err)
	}

	if err := o.Delete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Tree() != nil {
		t.Error("expected tree to be gone")
	}
}

func TestOrchestrator_Jobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := newTestOrchestrator(t, false)
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("notes.md", []byte("# Notes\n\nFirst point. Second point."), false)
	if err := o.Submit(job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := waitForJob(t, o, job.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed job, got %+v", snap)
	}
	if snap.Tree == nil || snap.Tree.TotalNodes != snap.Progress.TotalNodes {
		t.Errorf("expected tree info matching progress, got %+v", snap)
	}
	if snap.ContentHash == "" {
		t.Error("expected content hash")
	}

	again := NewTextJob("Replacement text.", false)
	if err := o.Submit(again); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap = waitForJob(t, o, again.ID)
	if snap.Status != StatusFailed || len(snap.Progress.Errors) != 1 {
		t.Errorf("expected failed job without consent, got %+v", snap)
	}

	bad := NewJob("data.docx", []byte("not a zip"), true)
	if err := o.Submit(bad); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap := waitForJob(t, o, bad.ID); snap.Status != StatusFailed || snap.Phase != "loading" {
		t.Errorf("expected loading failure, got %+v", snap)
	}
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	o := newTestOrchestrator(t, false)
	o.Start(context.Background())
	o.Stop()
	o.Stop()
	if err := o.Submit(NewTextJob("x.", true)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	o, err := New(cfg, localProviders(false), WithLogger(quietLog()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Not started, so nothing drains the queue.
	if err := o.Submit(NewTextJob("a.", true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := NewTextJob("b.", true)
	if err := o.Submit(job); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if got := o.GetJob(job.ID).Snapshot().Status; got != StatusFailed {
		t.Errorf("expected rejected job to be failed, got %q", got)
	}
}

func waitForJob(t *testing.T, o *Orchestrator, id string) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap := o.GetJob(id).Snapshot()
		if snap.Status == StatusCompleted || snap.Status == StatusFailed {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return JobSnapshot{}
}
