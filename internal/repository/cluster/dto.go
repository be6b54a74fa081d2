package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	"github.com/newsiq/newsengine/internal/domain/story"
)

const (
	fieldTitle        = "title"
	fieldDescription  = "description"
	fieldFirstSeen    = "first_seen"
	fieldLastUpdated  = "last_updated"
	fieldArticleCount = "article_count"
	fieldIsActive     = "is_active"
	fieldStatus       = "status"
	fieldMean         = "mean"
	fieldRecent       = "recent"
)

func toHash(c *story.Cluster) map[string]string {
	active := "0"
	if c.IsActive {
		active = "1"
	}
	recent := make([]string, len(c.Recent))
	for i, t := range c.Recent {
		recent[i] = strconv.FormatInt(t.Unix(), 10)
	}
	return map[string]string{
		fieldTitle:        c.Title,
		fieldDescription:  c.Description,
		fieldFirstSeen:    strconv.FormatInt(c.FirstSeen.Unix(), 10),
		fieldLastUpdated:  strconv.FormatInt(c.LastUpdated.Unix(), 10),
		fieldArticleCount: strconv.Itoa(c.ArticleCount),
		fieldIsActive:     active,
		fieldStatus:       string(c.Status),
		fieldMean:         db.VectorToBytes(c.Mean),
		fieldRecent:       strings.Join(recent, ","),
		db.VectorField:    db.VectorToBytes(c.Centroid),
	}
}

func fromHash(id string, m map[string]string) (story.Cluster, error) {
	status, err := story.ParseStatus(m[fieldStatus])
	if err != nil {
		return story.Cluster{}, fmt.Errorf("cluster %s: %w", id, err)
	}
	c := story.Cluster{
		ID:          id,
		Title:       m[fieldTitle],
		Description: m[fieldDescription],
		FirstSeen:   parseUnix(m[fieldFirstSeen]),
		LastUpdated: parseUnix(m[fieldLastUpdated]),
		IsActive:    m[fieldIsActive] == "1",
		Status:      status,
		Mean:        db.BytesToVector(m[fieldMean]),
		Centroid:    db.BytesToVector(m[db.VectorField]),
	}
	c.ArticleCount, _ = strconv.Atoi(m[fieldArticleCount])
	if r := m[fieldRecent]; r != "" {
		for _, s := range strings.Split(r, ",") {
			if t := parseUnix(s); !t.IsZero() {
				c.Recent = append(c.Recent, t)
			}
		}
	}
	if len(c.Mean) == 0 {
		c.Mean = c.Centroid
	}
	return c, nil
}

// encodeLink packs relevance|assigned_at|primary into one hash value.
func encodeLink(l story.Link) string {
	primary := "0"
	if l.Primary {
		primary = "1"
	}
	return strconv.FormatFloat(l.Relevance, 'f', 6, 64) + "|" +
		strconv.FormatInt(l.AssignedAt.Unix(), 10) + "|" + primary
}

func decodeLink(clusterID, articleID, v string) (story.Link, error) {
	parts := strings.Split(v, "|")
	if len(parts) != 3 {
		return story.Link{}, fmt.Errorf("malformed link %q", v)
	}
	rel, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return story.Link{}, fmt.Errorf("link relevance: %w", err)
	}
	return story.Link{
		ClusterID:  clusterID,
		ArticleID:  articleID,
		Relevance:  rel,
		AssignedAt: parseUnix(parts[1]),
		Primary:    parts[2] == "1",
	}, nil
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
