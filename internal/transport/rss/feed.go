// Package rss fetches RSS 2.0 and Atom feeds and extracts readable article text.
package rss

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrUnknownFormat is returned for documents that are neither RSS nor Atom.
var ErrUnknownFormat = errors.New("rss: unknown feed format")

// Feed is a parsed feed with its items in document order.
type Feed struct {
	Title string
	Items []Item
}

// Item is a single feed entry with HTML already reduced to text.
type Item struct {
	URL         string
	Title       string
	Content     string
	Summary     string
	Author      string
	PublishedAt time.Time // zero when the feed carries no parseable date
	Categories  []string
}

type rssDoc struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Description string   `xml:"description"`
	Encoded     string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Author      string   `xml:"author"`
	Creator     string   `xml:"http://purl.org/dc/elements/1.1/ creator"`
	PubDate     string   `xml:"pubDate"`
	Date        string   `xml:"http://purl.org/dc/elements/1.1/ date"`
	Categories  []string `xml:"category"`
}

type atomDoc struct {
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title string `xml:"title"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	ID        string      `xml:"id"`
	Summary   string      `xml:"summary"`
	Content   atomContent `xml:"content"`
	Published string      `xml:"published"`
	Updated   string      `xml:"updated"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

type atomContent struct {
	Type  string `xml:"type,attr"`
	Text  string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

func (c atomContent) html() string {
	if c.Type == "xhtml" {
		return c.Inner
	}
	return c.Text
}

// Parse decodes an RSS 2.0 or Atom document.
func Parse(data []byte) (Feed, error) {
	root, err := rootElement(data)
	if err != nil {
		return Feed{}, err
	}
	switch root {
	case "rss", "RDF":
		return parseRSS(data)
	case "feed":
		return parseAtom(data)
	default:
		return Feed{}, fmt.Errorf("%w: root element <%s>", ErrUnknownFormat, root)
	}
}

func rootElement(data []byte) (string, error) {
	dec := newDecoder(data)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read feed root: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func newDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = passthroughCharset
	return dec
}

// passthroughCharset accepts any declared encoding and reads the bytes as is.
func passthroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}

func parseRSS(data []byte) (Feed, error) {
	var doc rssDoc
	if err := newDecoder(data).Decode(&doc); err != nil {
		return Feed{}, fmt.Errorf("decode rss: %w", err)
	}
	feed := Feed{Title: strings.TrimSpace(doc.Channel.Title)}
	for _, it := range doc.Channel.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" && strings.HasPrefix(strings.TrimSpace(it.GUID), "http") {
			link = strings.TrimSpace(it.GUID)
		}
		body := it.Encoded
		if strings.TrimSpace(body) == "" {
			body = it.Description
		}
		feed.Items = append(feed.Items, Item{
			URL:         link,
			Title:       StripHTML(it.Title),
			Content:     StripHTML(body),
			Summary:     truncateRunes(StripHTML(it.Description), summaryRunes),
			Author:      firstNonEmpty(it.Author, it.Creator),
			PublishedAt: parseTime(firstNonEmpty(it.PubDate, it.Date)),
			Categories:  trimAll(it.Categories),
		})
	}
	return feed, nil
}

func parseAtom(data []byte) (Feed, error) {
	var doc atomDoc
	if err := newDecoder(data).Decode(&doc); err != nil {
		return Feed{}, fmt.Errorf("decode atom: %w", err)
	}
	feed := Feed{Title: strings.TrimSpace(doc.Title)}
	for _, e := range doc.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = strings.TrimSpace(l.Href)
				break
			}
		}
		body := e.Content.html()
		if strings.TrimSpace(body) == "" {
			body = e.Summary
		}
		cats := make([]string, 0, len(e.Categories))
		for _, c := range e.Categories {
			cats = append(cats, c.Term)
		}
		feed.Items = append(feed.Items, Item{
			URL:         link,
			Title:       StripHTML(e.Title),
			Content:     StripHTML(body),
			Summary:     truncateRunes(StripHTML(e.Summary), summaryRunes),
			Author:      strings.TrimSpace(e.Author.Name),
			PublishedAt: parseTime(firstNonEmpty(e.Published, e.Updated)),
			Categories:  trimAll(cats),
		})
	}
	return feed, nil
}

const summaryRunes = 500

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
