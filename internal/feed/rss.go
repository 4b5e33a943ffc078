// Package feed renders Feed + FeedItem rows as RSS 2.0 or Atom 1.0
// documents. Rendering is a pure function of its inputs: identical feeds
// and items always produce byte-identical XML.
package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/fenilsonani/feedmailer/internal/model"
)

type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Version string    `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link,omitempty"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Description string   `xml:"description"`
	Link        string   `xml:"link,omitempty"`
	Author      string   `xml:"author,omitempty"`
	PubDate     string   `xml:"pubDate"`
	GUID        rssGUID  `xml:"guid"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// RenderRSS builds an RSS 2.0 document for f, capping the rendered item
// count at limit (items is expected to already be sorted newest-first).
func RenderRSS(f *model.Feed, items []*model.FeedItem, limit int) ([]byte, error) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       f.Title,
			Description: f.Description,
			Link:        f.Link,
			Items:       make([]rssItem, 0, len(items)),
		},
	}

	for _, item := range items {
		out.Channel.Items = append(out.Channel.Items, rssItem{
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			Author:      item.Author,
			PubDate:     item.PubDate.UTC().Format(time.RFC1123Z),
			GUID: rssGUID{
				IsPermaLink: "false",
				Value:       fmt.Sprintf("%s_%s", f.ID, item.ID),
			},
		})
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("feed: render rss: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
