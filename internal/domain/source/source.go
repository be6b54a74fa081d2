// Package source models registered feeds and their polling health.
package source

import (
	"time"

	"github.com/google/uuid"
)

// SuccessesToReset is the number of consecutive good polls that clear error_count.
const SuccessesToReset = 3

// Source is a registered RSS or Atom feed.
type Source struct {
	ID             string
	Name           string
	URL            string
	Interval       time.Duration
	Credibility    int
	Topics         []string
	ErrorCount     int
	ConsecutiveOK  int
	LastError      string
	LastFetchedAt  time.Time
	LastAttemptAt  time.Time
	IsActive       bool
	DeactivatedAt  time.Time
	ArticlesStored int64
}

// IDFor derives a stable id from the feed url.
func IDFor(feedURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(feedURL)).String()
}

// Backoff holds the retry policy shared by all sources.
type Backoff struct {
	Max       time.Duration
	Threshold int
}

// NextDelay is the wait before the next poll: min(interval*2^error_count, max).
func (s *Source) NextDelay(b Backoff) time.Duration {
	d := s.Interval
	for i := 0; i < s.ErrorCount; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// RecordSuccess counts a good poll; SuccessesToReset in a row clear error_count.
func (s *Source) RecordSuccess(at time.Time) {
	s.LastAttemptAt = at
	s.LastFetchedAt = at
	s.ConsecutiveOK++
	if s.ConsecutiveOK >= SuccessesToReset {
		s.ErrorCount = 0
		s.LastError = ""
	}
}

// RecordFailure counts a failed poll and reports whether the source is now exhausted.
// An exhausted source is deactivated.
func (s *Source) RecordFailure(err error, at time.Time, b Backoff) bool {
	s.LastAttemptAt = at
	s.ConsecutiveOK = 0
	s.ErrorCount++
	if err != nil {
		s.LastError = err.Error()
	}
	if b.Threshold > 0 && s.ErrorCount >= b.Threshold {
		s.IsActive = false
		s.DeactivatedAt = at
		return true
	}
	return false
}

// Reactivate clears failure state after operator action.
func (s *Source) Reactivate() {
	s.IsActive = true
	s.ErrorCount = 0
	s.ConsecutiveOK = 0
	s.LastError = ""
	s.DeactivatedAt = time.Time{}
}
