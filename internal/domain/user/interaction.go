package user

import (
	"fmt"
	"time"
)

// InteractionType enumerates reader actions on an article.
type InteractionType string

// Interaction types.
const (
	InteractionView         InteractionType = "view"
	InteractionUpvote       InteractionType = "upvote"
	InteractionDownvote     InteractionType = "downvote"
	InteractionMute         InteractionType = "mute"
	InteractionBookmark     InteractionType = "bookmark"
	InteractionDeepResearch InteractionType = "deep_research"
)

// LongReadSeconds is the read time above which a view counts as engaged.
const LongReadSeconds = 30

// ParseInteractionType validates an interaction type.
func ParseInteractionType(s string) (InteractionType, error) {
	switch t := InteractionType(s); t {
	case InteractionView, InteractionUpvote, InteractionDownvote,
		InteractionMute, InteractionBookmark, InteractionDeepResearch:
		return t, nil
	default:
		return "", fmt.Errorf("unknown interaction type %q", s)
	}
}

// UpdatesLongTerm reports whether the type nudges the long-term vector.
// All other types update only the session vector.
func (t InteractionType) UpdatesLongTerm() bool {
	switch t {
	case InteractionUpvote, InteractionDownvote, InteractionMute, InteractionBookmark:
		return true
	default:
		return false
	}
}

// Weight is the signed strength of the interaction as a preference signal.
func (t InteractionType) Weight() float64 {
	switch t {
	case InteractionUpvote:
		return 1.0
	case InteractionBookmark:
		return 1.5
	case InteractionDownvote:
		return -1.0
	case InteractionMute:
		return -2.5
	case InteractionDeepResearch:
		return 2.0
	default:
		return 1.0
	}
}

// IsPositive reports whether the interaction signals interest.
func (t InteractionType) IsPositive() bool {
	return t.Weight() > 0
}

// Interaction is an append-only reader event.
type Interaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ArticleID       string          `json:"article_id"`
	Type            InteractionType `json:"type"`
	ReadTimeSeconds *int            `json:"read_time_seconds,omitempty"`
	ScrollDepth     *int            `json:"scroll_depth_percent,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks optional measurements.
func (i *Interaction) Validate() error {
	if i.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if i.ArticleID == "" {
		return fmt.Errorf("article id is required")
	}
	if _, err := ParseInteractionType(string(i.Type)); err != nil {
		return err
	}
	if i.ReadTimeSeconds != nil && *i.ReadTimeSeconds < 0 {
		return fmt.Errorf("read time must be non-negative")
	}
	if i.ScrollDepth != nil && (*i.ScrollDepth < 0 || *i.ScrollDepth > 100) {
		return fmt.Errorf("scroll depth must be within [0,100]")
	}
	return nil
}

// SessionWeight is the multiplier applied to the session blend rate.
func (i *Interaction) SessionWeight() float64 {
	switch i.Type {
	case InteractionDeepResearch:
		return InteractionDeepResearch.Weight()
	case InteractionView:
		if i.ReadTimeSeconds != nil && *i.ReadTimeSeconds > LongReadSeconds {
			return 1.5
		}
	}
	return 1.0
}
