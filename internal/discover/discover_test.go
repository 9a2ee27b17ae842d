package discover

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Engineering Blog</title>
  <item>
    <title>Designing Resilient Pipelines</title>
    <link>https://blog.example.com/resilient-pipelines</link>
    <guid>post-101</guid>
    <pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
    <description>&lt;p&gt;Lessons from running extraction at scale.&lt;/p&gt;</description>
  </item>
  <item>
    <title>Old Post</title>
    <link>https://blog.example.com/old</link>
    <pubDate>Mon, 05 Jan 2015 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title></title>
    <link>https://blog.example.com/untitled</link>
  </item>
  <item>
    <title>No Link At All</title>
  </item>
</channel>
</rss>`

func parsedFeed(t *testing.T) *gofeed.Feed {
	t.Helper()
	feed, err := gofeed.NewParser().ParseString(sampleRSS)
	if err != nil {
		t.Fatalf("parsing sample feed: %v", err)
	}
	return feed
}

func TestItemsFromFeed(t *testing.T) {
	d := New(nil, 7, nil)
	d.now = func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) }

	items := d.itemsFromFeed(parsedFeed(t), Feed{URL: "https://blog.example.com/rss", Name: "Example"})

	if len(items) != 1 {
		t.Fatalf("expected 1 item within the window, got %d", len(items))
	}
	item := items[0]
	if item.Title != "Designing Resilient Pipelines" {
		t.Errorf("unexpected title: %s", item.Title)
	}
	if item.Source != "Example" {
		t.Errorf("unexpected source: %s", item.Source)
	}
	if item.ExternalID != "post-101" {
		t.Errorf("unexpected external id: %s", item.ExternalID)
	}
	if item.PublishedDate != "2026-08-24" {
		t.Errorf("unexpected published date: %s", item.PublishedDate)
	}
	if item.Abstract != "Lessons from running extraction at scale." {
		t.Errorf("abstract not stripped: %q", item.Abstract)
	}
	if item.ID != ItemID("https://blog.example.com/resilient-pipelines") {
		t.Error("item id must derive from the source URL")
	}
}

func TestItemsFromFeedWideWindow(t *testing.T) {
	d := New(nil, 10000, nil)
	d.now = func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) }

	items := d.itemsFromFeed(parsedFeed(t), Feed{URL: "https://blog.example.com/rss"})
	// The untitled and linkless entries stay unusable regardless of window.
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestItemFromEntryRequiresLinkAndTitle(t *testing.T) {
	if itemFromEntry(&gofeed.Item{Title: "No Link"}, "src") != nil {
		t.Error("entry without link must be dropped")
	}
	if itemFromEntry(&gofeed.Item{Link: "https://x.test/a"}, "src") != nil {
		t.Error("entry without title must be dropped")
	}
	if itemFromEntry(&gofeed.Item{GUID: "only-guid", Title: "T"}, "src") == nil {
		t.Error("GUID may stand in for a missing link")
	}
}

func TestItemIDStable(t *testing.T) {
	a := ItemID("https://example.com/doc")
	b := ItemID("https://example.com/doc")
	if a != b {
		t.Error("same URL must produce the same id")
	}
	if a == ItemID("https://example.com/other") {
		t.Error("different URLs must produce different ids")
	}
	if len(a) != 16 {
		t.Errorf("expected 16-char id, got %d chars", len(a))
	}
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://blog.golang.org/feed", "Golang"},
		{"https://www.example.com/rss.xml", "Example"},
		{"https://feeds.arstechnica.com/arstechnica/index", "Arstechnica"},
		{"not a url at all", "not a url at all"},
	}
	for _, tt := range tests {
		if got := sourceName(tt.in); got != tt.want {
			t.Errorf("sourceName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithinWindow(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if !withinWindow("2026-08-15", cutoff) {
		t.Error("date after cutoff must pass")
	}
	if withinWindow("2026-07-01", cutoff) {
		t.Error("date before cutoff must fail")
	}
	if !withinWindow("", cutoff) {
		t.Error("unknown date gets the benefit of the doubt")
	}
	if !withinWindow("not-a-date", cutoff) {
		t.Error("unparseable date gets the benefit of the doubt")
	}
}
