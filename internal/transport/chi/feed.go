package chi

import (
	"net/http"

	gochi "github.com/go-chi/chi/v5"

	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

const defaultPerPage = 20

// GetFeed handles GET /feed.
func (s *Server) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	page, err := intParam(r, "page", 1)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	blindSpots, err := boolParam(r, "include_blind_spots", true)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	p, err := s.deps.Feed.Rank(r.Context(), userID, page, perPage, blindSpots)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if p.Degraded {
		w.Header().Set("X-Feed-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, feedFrom(&p))
}

// GetBookmarks handles GET /feed/bookmarks.
func (s *Server) GetBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	page, err := intParam(r, "page", 1)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	p, err := s.deps.Feed.Bookmarks(r.Context(), userID, page, perPage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedFrom(&p))
}

// GetArticle handles GET /feed/{id}.
func (s *Server) GetArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Articles.Get(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailFrom(&a))
}

// RecordInteraction handles POST /user/interactions.
func (s *Server) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := s.decode(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	id, err := s.deps.Feed.RecordInteraction(r.Context(), domuser.Interaction{
		UserID:          userID,
		ArticleID:       req.ArticleID,
		Type:            domuser.InteractionType(req.InteractionType),
		ReadTimeSeconds: req.ReadTimeSeconds,
		ScrollDepth:     req.ScrollDepth,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{Success: true, FeedUpdated: true, InteractionID: id})
}

// GetPreferences handles GET /user/preferences.
func (s *Server) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	p, err := s.deps.Feed.Profile(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileFrom(&p))
}

// UpdatePreferences handles POST /user/preferences.
func (s *Server) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := s.decode(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	p, err := s.deps.Feed.UpdatePreferences(r.Context(), userID, req.toDomain())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileFrom(&p))
}
