package chi

import (
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	ingestionuc "github.com/newsiq/newsengine/internal/usecase/ingestion"
)

// ListSources handles GET /admin/sources.
func (s *Server) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Ingestion.Sources(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	out := make([]sourceResponse, len(sources))
	for i := range sources {
		out[i] = sourceFrom(&sources[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// ReactivateSource handles POST /admin/sources/{id}/reactivate.
func (s *Server) ReactivateSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.deps.Ingestion.Reactivate(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceFrom(&src))
}

// FetchFeeds handles POST /admin/fetch-feeds: one synchronous poll of every active source.
func (s *Server) FetchFeeds(w http.ResponseWriter, r *http.Request) {
	results, err := s.deps.Ingestion.PollAll(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []ingestionuc.PollResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// ClusterSweep handles POST /admin/cluster-sweep.
func (s *Server) ClusterSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Stories.Sweep(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Checked: res.Checked, Transitioned: res.Transitioned})
}

// CleanupCache handles POST /admin/cleanup-cache.
func (s *Server) CleanupCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Research.Cleanup(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Removed: n})
}

// Status handles GET /admin/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	var (
		articles int
		active   int
		sources  []domsource.Source
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		articles, err = s.deps.Articles.Count(ctx, domart.Filter{})
		return err
	})
	g.Go(func() error {
		var err error
		_, active, err = s.deps.Stories.List(ctx, true, 1)
		return err
	})
	g.Go(func() error {
		var err error
		sources, err = s.deps.Ingestion.Sources(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp := statusResponse{
		Articles:       articles,
		ActiveStories:  active,
		SourcesTotal:   len(sources),
		FailingSources: []sourceResponse{},
	}
	for i := range sources {
		if sources[i].IsActive {
			resp.SourcesActive++
		}
		if sources[i].ErrorCount > 0 || !sources[i].IsActive {
			resp.FailingSources = append(resp.FailingSources, sourceFrom(&sources[i]))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
