package edgar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/insightagent/internal/registry"
)

const defaultFeedCount = 20

// FeedEntry is one filing announcement from a company's EDGAR Atom feed.
type FeedEntry struct {
	Title   string    `json:"title"`
	Link    string    `json:"link"`
	Form    string    `json:"form,omitempty"`
	Summary string    `json:"summary,omitempty"`
	Updated time.Time `json:"updated"`
}

// RecentFilings reads the company's EDGAR Atom feed, optionally restricted
// to one form type. A limit of 0 or less uses the EDGAR default page size.
func (c *Client) RecentFilings(ctx context.Context, cik, form string, limit int) ([]FeedEntry, error) {
	if limit <= 0 {
		limit = defaultFeedCount
	}
	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", registry.UnpadCIK(cik))
	q.Set("type", form)
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("count", strconv.Itoa(limit))
	q.Set("output", "atom")
	feedURL := c.feedURL + "?" + q.Encode()

	body, err := c.get(ctx, feedURL, "application/atom+xml")
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse EDGAR feed: %w", err)
	}

	entries := make([]FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		e := FeedEntry{
			Title:   item.Title,
			Link:    item.Link,
			Summary: item.Description,
		}
		if len(item.Categories) > 0 {
			e.Form = item.Categories[0]
		}
		if item.UpdatedParsed != nil {
			e.Updated = *item.UpdatedParsed
		} else if item.PublishedParsed != nil {
			e.Updated = *item.PublishedParsed
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}
