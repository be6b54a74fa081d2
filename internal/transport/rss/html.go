package rss

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML reduces an HTML fragment to whitespace-normalized text.
// Plain text passes through unchanged apart from whitespace.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style").Remove()
	return collapseSpace(doc.Text())
}

var boilerplate = "script, style, noscript, nav, header, footer, aside, form, iframe, figure"

// ExtractMain returns the readable body of an article page: paragraphs of the
// <article> element, falling back to <main> and then to the whole document.
func ExtractMain(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err //nolint:wrapcheck // caller adds context
	}
	doc.Find(boilerplate).Remove()

	title = collapseSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = collapseSpace(doc.Find("title").First().Text())
	}

	for _, sel := range []string{"article", "main", "[role=main]", "body"} {
		root := doc.Find(sel).First()
		if root.Length() == 0 {
			continue
		}
		if text = paragraphs(root); text != "" {
			return title, text, nil
		}
	}
	return title, collapseSpace(doc.Text()), nil
}

func paragraphs(root *goquery.Selection) string {
	var parts []string
	root.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := collapseSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
