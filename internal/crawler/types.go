// Package crawler fetches and parses NGA author listing pages into
// structured post records through a pooled browser session.
package crawler

import (
	"fmt"
	"strconv"
	"time"
)

// SyntheticIDPrefix marks post IDs synthesized when extraction failed.
const SyntheticIDPrefix = "NO_PID_"

// Post is one reply extracted from an author listing row.
type Post struct {
	ThreadID string
	PostID   string
	// SyntheticID is set when PostID was synthesized from the thread ID
	// because no real post ID could be extracted.
	SyntheticID  bool
	TopicTitle   string
	QuoteContent string
	MainContent  string
	Forum        string
	// PostDate is the raw timestamp text from the page; PostTime is its
	// best-effort parse, nil when unparseable.
	PostDate string
	PostTime *time.Time
	// TimeAccurate is set once the detail-page correction pass confirmed or
	// replaced the listing timestamp.
	TimeAccurate bool
	RepliesCount string
	Images       []string
	URL          string
	ScrapedAt    time.Time
}

// ContentFull renders the quote and reply body as one notification text.
func (p Post) ContentFull() string {
	if p.QuoteContent == "" {
		return p.MainContent
	}
	return fmt.Sprintf("[引用]\n%s\n\n[回复]\n%s", p.QuoteContent, p.MainContent)
}

// SortKey orders posts newest-first: parsed timestamp when available,
// numeric post ID otherwise (IDs are monotonic on the source).
func (p Post) SortKey() int64 {
	if p.PostTime != nil {
		return p.PostTime.Unix()
	}
	if n, err := strconv.ParseInt(p.PostID, 10, 64); err == nil {
		return n
	}
	return 0
}

// postTimeLayouts are the timestamp shapes the listing and detail pages use.
var postTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parsePostTime attempts each known layout in the local timezone the forum
// renders in. Returns nil when nothing matches.
func parsePostTime(raw string) *time.Time {
	for _, layout := range postTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

// timeImprecise reports whether a raw date lacks a clock component, the
// cue for the detail-page correction pass.
func timeImprecise(raw string) bool {
	return parsePostTime(raw) == nil || len(raw) <= len("2006-01-02")
}
