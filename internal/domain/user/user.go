// Package user holds reader preference state and the interaction log types.
package user

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Diversity controls the share of blind-spot slots on a feed page.
type Diversity string

// Diversity levels.
const (
	DiversityLow    Diversity = "low"
	DiversityMedium Diversity = "medium"
	DiversityHigh   Diversity = "high"
)

// ParseDiversity validates a diversity level. An empty string yields medium.
func ParseDiversity(s string) (Diversity, error) {
	switch d := Diversity(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DiversityMedium, nil
	case DiversityLow, DiversityMedium, DiversityHigh:
		return d, nil
	default:
		return "", fmt.Errorf("unknown diversity level %q", s)
	}
}

// Share is the fraction of page slots given to blind spots.
func (d Diversity) Share() float64 {
	switch d {
	case DiversityHigh:
		return 0.30
	case DiversityMedium:
		return 0.15
	default:
		return 0
	}
}

// Slots returns the number of blind-spot slots on a page of pageSize.
func (d Diversity) Slots(pageSize int) int {
	return int(math.Round(d.Share() * float64(pageSize)))
}

// Profile is the persisted preference state of one reader.
type Profile struct {
	ID           string
	LongTerm     []float32
	Topics       []string
	MutedSources []string
	Diversity    Diversity
	UpdatedAt    time.Time
}

// Default returns the profile used for readers with no stored state.
func Default(id string) Profile {
	return Profile{ID: id, Diversity: DiversityMedium}
}

// IsMuted reports whether source is muted.
func (p *Profile) IsMuted(source string) bool {
	return slices.Contains(p.MutedSources, source)
}

// Mute adds source to the muted set.
func (p *Profile) Mute(source string) {
	if source == "" || p.IsMuted(source) {
		return
	}
	p.MutedSources = append(p.MutedSources, source)
}

// Preferences is a partial profile update; nil fields are left unchanged.
type Preferences struct {
	Topics       *[]string
	MutedSources *[]string
	Diversity    *Diversity
}

// Apply merges prefs into the profile.
func (p *Profile) Apply(prefs Preferences) {
	if prefs.Topics != nil {
		p.Topics = dedupe(*prefs.Topics, true)
	}
	if prefs.MutedSources != nil {
		p.MutedSources = dedupe(*prefs.MutedSources, false)
	}
	if prefs.Diversity != nil {
		p.Diversity = *prefs.Diversity
	}
}

func dedupe(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Session is the short-term intent vector of a reader.
type Session struct {
	Vector    []float32 `json:"vector"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engagement is the set of sources and clusters a reader interacted with positively.
type Engagement struct {
	Sources  map[string]bool
	Clusters map[string]bool
}
