package legacy

import (
	"context"
	"html"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/nscreview/internal/database"
)

// Entry is one condition listed in the legacy feed.
type Entry struct {
	Name string
	URL  string
	// LastReview is the date the last review completed, YYYY-MM-DD, or empty.
	LastReview     string
	Summary        string
	Recommendation bool
	Ages           []string
}

// parseFeed reads every usable item from the feed at url.
func (im *Importer) parseFeed(ctx context.Context) ([]Entry, error) {
	parser := gofeed.NewParser()
	parser.Client = im.client
	parser.UserAgent = userAgent

	feed, err := parser.ParseURLWithContext(im.feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, item := range feed.Items {
		if e, ok := parseItem(item); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func parseItem(item *gofeed.Item) (Entry, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	name := strings.TrimSpace(item.Title)
	if link == "" || name == "" {
		return Entry{}, false
	}

	e := Entry{Name: name, URL: link}
	if item.PublishedParsed != nil {
		e.LastReview = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		e.LastReview = item.UpdatedParsed.Format("2006-01-02")
	}

	if item.Description != "" {
		e.Summary = stripHTML(item.Description)
	} else if item.Content != "" {
		e.Summary = stripHTML(item.Content)
	}

	for _, c := range item.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		switch {
		case c == "recommended":
			e.Recommendation = true
		case database.IsChoice(database.AgeGroups, c):
			e.Ages = append(e.Ages, c)
		}
	}
	return e, true
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}
