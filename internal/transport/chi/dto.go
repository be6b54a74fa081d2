package chi

import (
	"time"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/domain/story"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
	rankinguc "github.com/newsiq/newsengine/internal/usecase/ranking"
)

// ErrorCode is the machine-readable error kind in error responses.
type ErrorCode string

const (
	codeBadRequest          ErrorCode = "bad_request"
	codeValidationFailed    ErrorCode = "validation_failed"
	codeUnauthorized        ErrorCode = "unauthorized"
	codeNotFound            ErrorCode = "not_found"
	codeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	codeGenerationTimeout   ErrorCode = "generation_timeout"
	codeSourceExhausted     ErrorCode = "source_exhausted"
	codeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// --- requests ---

type interactionRequest struct {
	ArticleID       string `json:"article_id" validate:"required,max=128"`
	InteractionType string `json:"interaction_type" validate:"required,oneof=view upvote downvote mute bookmark deep_research"`
	ReadTimeSeconds *int   `json:"read_time_seconds" validate:"omitempty,min=0"`
	ScrollDepth     *int   `json:"scroll_depth" validate:"omitempty,min=0,max=100"`
}

type analyzeRequest struct {
	ArticleID string `json:"article_id" validate:"required,max=128"`
}

type preferencesRequest struct {
	Topics         *[]string `json:"topics" validate:"omitempty,max=50,dive,min=1,max=64"`
	MutedSources   *[]string `json:"muted_sources" validate:"omitempty,max=200,dive,min=1,max=128"`
	DiversityLevel *string   `json:"diversity_level" validate:"omitempty,oneof=low medium high"`
}

func (p preferencesRequest) toDomain() domuser.Preferences {
	prefs := domuser.Preferences{Topics: p.Topics, MutedSources: p.MutedSources}
	if p.DiversityLevel != nil {
		d := domuser.Diversity(*p.DiversityLevel)
		prefs.Diversity = &d
	}
	return prefs
}

// --- responses ---

type articleSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Credibility int       `json:"credibility_score"`
	PublishedAt time.Time `json:"published_at"`
	Topics      []string  `json:"topics,omitempty"`
}

type feedItem struct {
	articleSummary
	Score       float64 `json:"score"`
	IsBlindSpot bool    `json:"is_blind_spot"`
}

type feedResponse struct {
	Articles   []feedItem `json:"articles"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
	Degraded   bool       `json:"degraded"`
	Mode       string     `json:"mode"`
}

type articleDetail struct {
	articleSummary
	Content   string          `json:"content"`
	FetchedAt time.Time       `json:"fetched_at"`
	Entities  domart.Entities `json:"entities"`
	Sentiment *float64        `json:"sentiment,omitempty"`
}

type interactionResponse struct {
	Success       bool   `json:"success"`
	FeedUpdated   bool   `json:"feed_updated"`
	InteractionID string `json:"interaction_id"`
}

type relatedArticle struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Credibility int       `json:"credibility_score"`
	PublishedAt time.Time `json:"published_at"`
}

type analyzeResponse struct {
	Analysis        string           `json:"analysis"`
	RelatedArticles []relatedArticle `json:"related_articles"`
	GeneratedAt     time.Time        `json:"generated_at"`
	FromCache       bool             `json:"from_cache"`
}

type invalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

type storySummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	ArticleCount int       `json:"article_count"`
	IsActive     bool      `json:"is_active"`
	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`
}

type storiesResponse struct {
	Stories    []storySummary `json:"stories"`
	TotalCount int            `json:"total_count"`
}

type keyArticle struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Credibility int       `json:"credibility_score"`
	PublishedAt time.Time `json:"published_at"`
}

type timelineEvent struct {
	Date         string       `json:"date"`
	Event        string       `json:"event"`
	ArticleCount int          `json:"article_count"`
	KeyArticles  []keyArticle `json:"key_articles"`
}

type storyResponse struct {
	storySummary
	Timeline []timelineEvent `json:"timeline"`
}

type profileResponse struct {
	Topics         []string  `json:"topics"`
	MutedSources   []string  `json:"muted_sources"`
	DiversityLevel string    `json:"diversity_level"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

type sourceResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	IntervalSecs   int       `json:"interval_seconds"`
	Credibility    int       `json:"credibility_score"`
	IsActive       bool      `json:"is_active"`
	ErrorCount     int       `json:"error_count"`
	LastError      string    `json:"last_error,omitempty"`
	LastFetchedAt  time.Time `json:"last_fetched_at,omitzero"`
	ArticlesStored int64     `json:"articles_stored"`
}

type sweepResponse struct {
	Checked      int `json:"checked"`
	Transitioned int `json:"transitioned"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

type statusResponse struct {
	Articles       int              `json:"articles"`
	ActiveStories  int              `json:"active_stories"`
	SourcesTotal   int              `json:"sources_total"`
	SourcesActive  int              `json:"sources_active"`
	FailingSources []sourceResponse `json:"failing_sources"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// --- converters ---

func summaryFrom(a *domart.Article) articleSummary {
	return articleSummary{
		ID:          a.ID(),
		Title:       a.Title(),
		Summary:     a.Summary(),
		URL:         a.URL(),
		Source:      a.Source(),
		Author:      a.Author(),
		Credibility: a.Credibility(),
		PublishedAt: a.PublishedAt(),
		Topics:      a.Topics(),
	}
}

func detailFrom(a *domart.Article) articleDetail {
	return articleDetail{
		articleSummary: summaryFrom(a),
		Content:        a.Content(),
		FetchedAt:      a.FetchedAt(),
		Entities:       a.Entities(),
		Sentiment:      a.Sentiment(),
	}
}

func feedFrom(p *rankinguc.Page) feedResponse {
	items := make([]feedItem, len(p.Items))
	for i := range p.Items {
		items[i] = feedItem{
			articleSummary: summaryFrom(&p.Items[i].Article),
			Score:          p.Items[i].Score,
			IsBlindSpot:    p.Items[i].BlindSpot,
		}
	}
	return feedResponse{
		Articles:   items,
		Page:       p.Page,
		PerPage:    p.PageSize,
		TotalCount: p.Total,
		HasMore:    p.HasMore,
		Degraded:   p.Degraded,
		Mode:       p.Mode,
	}
}

func analyzeFrom(r *domresearch.Result) analyzeResponse {
	related := make([]relatedArticle, len(r.Related))
	for i, a := range r.Related {
		related[i] = relatedArticle{
			ID:          a.ID,
			Title:       a.Title,
			Source:      a.Source,
			URL:         a.URL,
			Credibility: a.Credibility,
			PublishedAt: a.PublishedAt,
		}
	}
	return analyzeResponse{
		Analysis:        r.Analysis,
		RelatedArticles: related,
		GeneratedAt:     r.GeneratedAt,
		FromCache:       r.FromCache,
	}
}

func storyFrom(c *story.Cluster) storySummary {
	return storySummary{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		Status:       string(c.Status),
		ArticleCount: c.ArticleCount,
		IsActive:     c.IsActive,
		FirstSeen:    c.FirstSeen,
		LastUpdated:  c.LastUpdated,
	}
}

func timelineFrom(t *story.Timeline) storyResponse {
	events := make([]timelineEvent, len(t.Events))
	for i, e := range t.Events {
		keys := make([]keyArticle, len(e.KeyArticles))
		for j, m := range e.KeyArticles {
			keys[j] = keyArticle{
				ID:          m.ArticleID,
				Title:       m.Title,
				Source:      m.Source,
				URL:         m.URL,
				Credibility: m.Credibility,
				PublishedAt: m.PublishedAt,
			}
		}
		events[i] = timelineEvent{
			Date:         e.Date.Format(time.DateOnly),
			Event:        e.Headline,
			ArticleCount: e.ArticleCount,
			KeyArticles:  keys,
		}
	}
	return storyResponse{storySummary: storyFrom(&t.Cluster), Timeline: events}
}

func profileFrom(p *domuser.Profile) profileResponse {
	return profileResponse{
		Topics:         nonNil(p.Topics),
		MutedSources:   nonNil(p.MutedSources),
		DiversityLevel: string(p.Diversity),
		UpdatedAt:      p.UpdatedAt,
	}
}

func sourceFrom(s *domsource.Source) sourceResponse {
	return sourceResponse{
		ID:             s.ID,
		Name:           s.Name,
		URL:            s.URL,
		IntervalSecs:   int(s.Interval.Seconds()),
		Credibility:    s.Credibility,
		IsActive:       s.IsActive,
		ErrorCount:     s.ErrorCount,
		LastError:      s.LastError,
		LastFetchedAt:  s.LastFetchedAt,
		ArticlesStored: s.ArticlesStored,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
