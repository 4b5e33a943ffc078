package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/fenilsonani/feedmailer/internal/model"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Link    *atomLink   `xml:"link,omitempty"`
	Updated string      `xml:"updated"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Published string      `xml:"published"`
	Updated   string      `xml:"updated"`
	Author    *atomAuthor `xml:"author,omitempty"`
	Content   atomContent `xml:"content"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomContent struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",cdata"`
}

// RenderAtom builds an Atom 1.0 document for f, capping the rendered item
// count at limit. now is the feed-level <updated> timestamp.
func RenderAtom(f *model.Feed, items []*model.FeedItem, limit int, now time.Time) ([]byte, error) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := atomFeed{
		Xmlns:   "http://www.w3.org/2005/Atom",
		ID:      fmt.Sprintf("urn:uuid:%s", f.ID),
		Title:   f.Title,
		Updated: now.UTC().Format(time.RFC3339),
		Entries: make([]atomEntry, 0, len(items)),
	}
	if f.Link != "" {
		out.Link = &atomLink{Href: f.Link}
	}

	for _, item := range items {
		entry := atomEntry{
			ID:        fmt.Sprintf("urn:uuid:%s", item.ID),
			Title:     item.Title,
			Published: item.PubDate.UTC().Format(time.RFC3339),
			Updated:   now.UTC().Format(time.RFC3339),
			Content:   atomContent{Type: "html", Value: item.Description},
		}
		if item.Author != "" {
			entry.Author = &atomAuthor{Name: item.Author}
		}
		out.Entries = append(out.Entries, entry)
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("feed: render atom: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
