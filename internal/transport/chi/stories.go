package chi

import (
	"fmt"
	"net/http"

	gochi "github.com/go-chi/chi/v5"

	"github.com/newsiq/newsengine/internal/domain"
)

const (
	defaultStoryLimit = 20
	maxStoryLimit     = 100
)

// ListStories handles GET /stories.
func (s *Server) ListStories(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := boolParam(r, "active_only", true)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", defaultStoryLimit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if limit < 1 || limit > maxStoryLimit {
		s.handleDomainError(w, r, fmt.Errorf("limit must be within [1,%d]: %w", maxStoryLimit, domain.ErrInvalidInput))
		return
	}

	clusters, total, err := s.deps.Stories.List(r.Context(), activeOnly, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items := make([]storySummary, len(clusters))
	for i := range clusters {
		items[i] = storyFrom(&clusters[i])
	}
	writeJSON(w, http.StatusOK, storiesResponse{Stories: items, TotalCount: total})
}

// GetStory handles GET /stories/{id}.
func (s *Server) GetStory(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Stories.Timeline(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timelineFrom(&t))
}
