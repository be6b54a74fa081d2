package article

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	domart "github.com/newsiq/newsengine/internal/domain/article"
)

const (
	fieldURL         = "url"
	fieldTitle       = "title"
	fieldContent     = "content"
	fieldSummary     = "summary"
	fieldAuthor      = "author"
	fieldSource      = "source"
	fieldCredibility = "credibility"
	fieldPublishedAt = "published_at"
	fieldFetchedAt   = "fetched_at"
	fieldTopics      = "topics"
	fieldEntities    = "entities"
	fieldSentiment   = "sentiment"
)

func toHash(a *domart.Article) map[string]string {
	m := map[string]string{
		fieldURL:         a.URL(),
		fieldTitle:       a.Title(),
		fieldContent:     a.Content(),
		fieldSource:      a.Source(),
		fieldCredibility: strconv.Itoa(a.Credibility()),
		fieldPublishedAt: strconv.FormatInt(a.PublishedAt().Unix(), 10),
		fieldFetchedAt:   strconv.FormatInt(a.FetchedAt().Unix(), 10),
		db.VectorField:   db.VectorToBytes(a.Embedding()),
	}
	if a.Summary() != "" {
		m[fieldSummary] = a.Summary()
	}
	if a.Author() != "" {
		m[fieldAuthor] = a.Author()
	}
	if len(a.Topics()) > 0 {
		m[fieldTopics] = strings.Join(a.Topics(), ",")
	}
	if ent := a.Entities(); !ent.IsEmpty() {
		if data, err := json.Marshal(ent); err == nil {
			m[fieldEntities] = string(data)
		}
	}
	if s := a.Sentiment(); s != nil {
		m[fieldSentiment] = strconv.FormatFloat(*s, 'f', -1, 64)
	}
	return m
}

func fromHash(id string, m map[string]string) (domart.Article, error) {
	if m[fieldURL] == "" {
		return domart.Article{}, fmt.Errorf("article %s: missing url", id)
	}

	d := domart.Draft{
		URL:     m[fieldURL],
		Title:   m[fieldTitle],
		Content: m[fieldContent],
		Summary: m[fieldSummary],
		Author:  m[fieldAuthor],
		Source:  m[fieldSource],
	}
	d.Credibility, _ = strconv.Atoi(m[fieldCredibility])
	d.PublishedAt = parseUnix(m[fieldPublishedAt])
	if t := m[fieldTopics]; t != "" {
		d.Topics = strings.Split(t, ",")
	}
	if e := m[fieldEntities]; e != "" {
		_ = json.Unmarshal([]byte(e), &d.Entities)
	}
	if s := m[fieldSentiment]; s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			d.Sentiment = &v
		}
	}

	return domart.Reconstruct(id, d, db.BytesToVector(m[db.VectorField]), parseUnix(m[fieldFetchedAt])), nil
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
