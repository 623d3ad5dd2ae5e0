package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": map[string]any{
			"embedding":     s.cfg.EmbeddingSpecs(),
			"summarization": s.cfg.SummarizationModel,
			"qa":            s.cfg.QAModel,
		},
		"stats": s.stats.Snapshot(),
	})
}
