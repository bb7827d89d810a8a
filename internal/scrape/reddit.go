package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dealwatch/internal/deal"
)

var redditTitlePrefixRe = regexp.MustCompile(`(?i)^(Found|Spotted|Deal|Sale|Price|Clearance):\s*`)

var redditSkipKeywords = []string{"megathread", "thread", "how costco gets you"}

// Reddit pulls recent price-sighting posts from a subreddit via the
// public search JSON endpoint. Posts with a dollar amount in the title
// become listings.
type Reddit struct {
	client    *client
	baseURL   string
	subreddit string
}

func NewReddit(subreddit string) *Reddit {
	return &Reddit{client: newClient(), baseURL: "https://www.reddit.com", subreddit: subreddit}
}

func (r *Reddit) Name() string { return "reddit.com/r/" + r.subreddit }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string `json:"title"`
				Permalink string `json:"permalink"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) Fetch(ctx context.Context) ([]deal.RawListing, error) {
	url := fmt.Sprintf("%s/r/%s/search.json?q=%%24&restrict_sr=on&sort=new&t=month&limit=25", r.baseURL, r.subreddit)
	var page redditListing
	if err := r.client.decodeJSON(ctx, url, &page); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, r.Name(), err)
	}

	var listings []deal.RawListing
	for _, child := range page.Data.Children {
		title := child.Data.Title
		if containsAny(strings.ToLower(title), redditSkipKeywords) || !strings.Contains(title, "$") {
			continue
		}
		l, ok := titleListing(redditTitlePrefixRe.ReplaceAllString(title, ""))
		if !ok || len(l.Name) >= 80 {
			continue
		}
		if child.Data.Permalink != "" {
			l.Link = r.baseURL + child.Data.Permalink
		}
		listings = append(listings, l)
	}
	return listings, nil
}
