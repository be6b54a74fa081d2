package chi

import "net/http"

// Analyze handles POST /research/analyze. The call blocks until the analysis is
// ready, the generation times out or the client goes away.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res, err := s.deps.Research.Analyze(r.Context(), req.ArticleID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeFrom(&res))
}

// Invalidate handles POST /admin/research/invalidate.
func (s *Server) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ok, err := s.deps.Research.Invalidate(r.Context(), req.ArticleID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{Invalidated: ok})
}
