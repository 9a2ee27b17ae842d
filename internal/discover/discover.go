// Package discover produces WorkItems from configured RSS/Atom feeds.
// It is the standard implementation of the pipeline's discovery boundary.
package discover

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/docpipe/internal/cache"
	"github.com/TobiSchelling/docpipe/internal/extract"
	"github.com/TobiSchelling/docpipe/internal/model"
)

const maxPerFeed = 50

// Feed is one discovery source.
type Feed struct {
	URL  string
	Name string
}

// Discoverer fetches feeds and converts entries into WorkItems. Parsed
// feed results go through the query cache tier so repeated runs within
// the TTL skip the network.
type Discoverer struct {
	feeds    []Feed
	daysBack int
	cache    *cache.Cache
	parser   *gofeed.Parser
	now      func() time.Time
}

// New creates a Discoverer over the given feeds.
func New(feeds []Feed, daysBack int, c *cache.Cache) *Discoverer {
	if daysBack <= 0 {
		daysBack = 7
	}
	return &Discoverer{
		feeds:    feeds,
		daysBack: daysBack,
		cache:    c,
		parser:   gofeed.NewParser(),
		now:      time.Now,
	}
}

// Discover returns the finite set of items found across all feeds. A
// failing feed is logged and skipped; discovery never fails as a whole.
func (d *Discoverer) Discover(ctx context.Context) []model.WorkItem {
	var all []model.WorkItem
	for _, feed := range d.feeds {
		items, err := d.discoverFeed(ctx, feed)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", feed.URL, err)
			continue
		}
		all = append(all, items...)
		log.Printf("Discovered %d items from %s (within %d days)", len(items), feed.Name, d.daysBack)
	}
	return all
}

func (d *Discoverer) discoverFeed(ctx context.Context, feed Feed) ([]model.WorkItem, error) {
	key := cache.Key(
		"discover", feed.URL,
		"days_back="+strconv.Itoa(d.daysBack),
		"day="+d.now().Format("2006-01-02"),
	)

	raw, err := d.cache.GetOrCompute(cache.TierQuery, key, func() (json.RawMessage, error) {
		parsed, perr := d.parser.ParseURLWithContext(feed.URL, ctx)
		if perr != nil {
			return nil, perr
		}
		return json.Marshal(d.itemsFromFeed(parsed, feed))
	})
	if err != nil {
		return nil, err
	}

	var items []model.WorkItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *Discoverer) itemsFromFeed(feed *gofeed.Feed, cfg Feed) []model.WorkItem {
	name := cfg.Name
	if name == "" {
		name = sourceName(cfg.URL)
	}
	cutoff := d.now().AddDate(0, 0, -d.daysBack)

	var items []model.WorkItem
	for _, entry := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}
		item := itemFromEntry(entry, name)
		if item == nil {
			continue
		}
		if withinWindow(item.PublishedDate, cutoff) {
			items = append(items, *item)
		}
	}
	return items
}

// itemFromEntry maps one feed entry onto a WorkItem. Entries without a
// link or title are unusable and dropped.
func itemFromEntry(entry *gofeed.Item, source string) *model.WorkItem {
	link := entry.Link
	if link == "" {
		link = entry.GUID
	}
	if link == "" {
		return nil
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return nil
	}

	var published string
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.Format("2006-01-02")
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.Format("2006-01-02")
	}

	abstract := entry.Description
	if abstract == "" {
		abstract = entry.Content
	}
	abstract = extract.StripTags(abstract)
	if len(abstract) > 1000 {
		abstract = abstract[:1000]
	}

	return &model.WorkItem{
		ID:            ItemID(link),
		ExternalID:    strings.TrimSpace(entry.GUID),
		Title:         title,
		SourceURL:     link,
		Source:        source,
		Abstract:      abstract,
		PublishedDate: published,
	}
}

// ItemID derives the stable item identifier from a source URL.
func ItemID(sourceURL string) string {
	h := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(h[:8])
}

func withinWindow(publishedDate string, cutoff time.Time) bool {
	if publishedDate == "" {
		return true // benefit of the doubt
	}
	pub, err := time.Parse("2006-01-02", publishedDate)
	if err != nil {
		return true
	}
	return !pub.Before(cutoff)
}

func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	if host == "" {
		return feedURL
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
