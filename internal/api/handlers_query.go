package api

import (
	"net/http"
	"strings"

	"github.com/dgallion1/raptree/internal/retriever"
)

// queryRequest carries a question and optional overrides of the configured
// retrieval options.
type queryRequest struct {
	Question              string   `json:"question"`
	SelectionMode         *string  `json:"selection_mode,omitempty"`
	TopK                  *int     `json:"top_k,omitempty"`
	Threshold             *float64 `json:"threshold,omitempty"`
	StartLayer            *int     `json:"start_layer,omitempty"`
	LayersToTraverse      *int     `json:"layers_to_traverse,omitempty"`
	MaxTokens             *int     `json:"max_tokens,omitempty"`
	CollapseTree          *bool    `json:"collapse_tree,omitempty"`
	ContextEmbeddingModel *string  `json:"context_embedding_model,omitempty"`
}

func (q queryRequest) options(base retriever.Options) retriever.Options {
	if q.SelectionMode != nil {
		base.SelectionMode = retriever.SelectionMode(*q.SelectionMode)
	}
	if q.TopK != nil {
		base.TopK = *q.TopK
	}
	if q.Threshold != nil {
		base.Threshold = *q.Threshold
	}
	if q.StartLayer != nil {
		base.StartLayer = *q.StartLayer
	}
	if q.LayersToTraverse != nil {
		base.LayersToTraverse = *q.LayersToTraverse
	}
	if q.MaxTokens != nil {
		base.MaxTokens = *q.MaxTokens
	}
	if q.CollapseTree != nil {
		base.CollapseTree = *q.CollapseTree
	}
	if q.ContextEmbeddingModel != nil {
		base.ContextEmbeddingModel = *q.ContextEmbeddingModel
	}
	return base
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return req, false
	}
	if strings.TrimSpace(req.Question) == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	res, err := s.orchestrator.Retrieve(r.Context(), req.Question, req.options(s.orchestrator.DefaultRetrieveOptions()))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	ans, err := s.orchestrator.Answer(r.Context(), req.Question, req.options(s.orchestrator.DefaultRetrieveOptions()))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
