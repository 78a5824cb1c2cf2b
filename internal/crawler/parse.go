package crawler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Markers the remote site embeds in terminal pages.
var (
	loginExpiredMarkers = []string{"ERROR:2048", "必须登录"}
	rateLimitedMarkers  = []string{"访问过于频繁", "请稍后再试"}
)

// CheckPageState inspects raw page content for terminal conditions before
// any row parsing is attempted.
func CheckPageState(html string) error {
	for _, marker := range loginExpiredMarkers {
		if strings.Contains(html, marker) {
			return ErrLoginExpired
		}
	}
	for _, marker := range rateLimitedMarkers {
		if strings.Contains(html, marker) {
			return ErrRemoteRateLimited
		}
	}
	return nil
}

var (
	tidPattern        = regexp.MustCompile(`tid=(\d+)`)
	trailingDigits    = regexp.MustCompile(`(\d+)$`)
	handlerPidPattern = regexp.MustCompile(`pid[=:'"\s]+(\d+)`)
	digitsOnly        = regexp.MustCompile(`^\d+$`)
	newlineRuns       = regexp.MustCompile(`\n\s*\n+`)
)

// extractor is one strategy for pulling a field out of a listing row. The
// chains below are tried in order; the first hit wins.
type extractor func(row *goquery.Selection) (string, bool)

func firstMatch(row *goquery.Selection, chain ...extractor) (string, bool) {
	for _, ex := range chain {
		if v, ok := ex(row); ok {
			return v, true
		}
	}
	return "", false
}

// Post ID extraction, most reliable source first: the content span's
// element ID, then inline click handlers, then data attributes. The
// synthesized fallback is applied batch-wide in ParseListing.
var pidChain = []extractor{
	func(row *goquery.Selection) (string, bool) {
		id, ok := row.Find("td.c2 .postcontent span[id]").First().Attr("id")
		if !ok {
			return "", false
		}
		m := trailingDigits.FindStringSubmatch(id)
		if m == nil {
			return "", false
		}
		return m[1], true
	},
	func(row *goquery.Selection) (string, bool) {
		var pid string
		row.Find("td.c2 [onclick]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			handler, _ := sel.Attr("onclick")
			if m := handlerPidPattern.FindStringSubmatch(handler); m != nil {
				pid = m[1]
				return false
			}
			return true
		})
		return pid, pid != ""
	},
	func(row *goquery.Selection) (string, bool) {
		pid, ok := row.Find("[data-pid]").First().Attr("data-pid")
		if !ok || !digitsOnly.MatchString(pid) {
			return "", false
		}
		return pid, true
	},
}

// Reply timestamp: the cell text is the reply time; the title attribute can
// carry the thread time instead, so it is only a fallback.
var dateChain = []extractor{
	func(row *goquery.Selection) (string, bool) {
		text := strings.TrimSpace(row.Find("td.c3 .postdate").First().Text())
		return text, len(text) >= 5
	},
	func(row *goquery.Selection) (string, bool) {
		title, ok := row.Find("td.c3 .postdate").First().Attr("title")
		title = strings.TrimSpace(title)
		return title, ok && title != ""
	},
}

// ParseListing parses one author listing page into post records. A row that
// cannot be parsed is skipped and counted, never fatal; terminal page states
// surface as ErrLoginExpired or ErrRemoteRateLimited before any parsing.
func ParseListing(html string, scrapedAt time.Time) (posts []Post, skipped int, err error) {
	if err := CheckPageState(html); err != nil {
		return nil, 0, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("parse listing html: %w", err)
	}

	doc.Find("tr.topicrow").Each(func(_ int, row *goquery.Selection) {
		post, perr := parseRow(row, scrapedAt)
		if perr != nil {
			skipped++
			return
		}
		posts = append(posts, post)
	})

	assignSyntheticIDs(posts)
	return posts, skipped, nil
}

func parseRow(row *goquery.Selection, scrapedAt time.Time) (Post, error) {
	topicLink := row.Find("td.c2 a.topic").First()
	href, _ := topicLink.Attr("href")
	m := tidPattern.FindStringSubmatch(href)
	if m == nil {
		// The thread ID anchors the whole record; without it the row is
		// unusable.
		return Post{}, parseErrorf("no thread id in %q", href)
	}
	tid := m[1]

	post := Post{
		ThreadID:     tid,
		TopicTitle:   truncate(strings.TrimSpace(topicLink.Text()), 200),
		Forum:        strings.TrimSpace(row.Find("td.c2 .titleadd2 a").First().Text()),
		RepliesCount: strings.TrimSpace(row.Find("td.c1 a.replies").First().Text()),
		ScrapedAt:    scrapedAt,
	}

	if pid, ok := firstMatch(row, pidChain...); ok {
		post.PostID = pid
	}

	content := row.Find("td.c2 .postcontent").First()
	if content.Length() > 0 {
		quoteSel := content.Find("div.quote")
		post.QuoteContent = cleanText(quoteSel.Text())
		body := content.Clone()
		body.Find("div.quote").Remove()
		post.MainContent = cleanText(body.Text())
		post.Images = extractImages(content)
	}

	if raw, ok := firstMatch(row, dateChain...); ok {
		post.PostDate = raw
		post.PostTime = parsePostTime(raw)
	}

	post.URL = postURL(tid, post.PostID)
	return post, nil
}

// assignSyntheticIDs fills in placeholder IDs for rows where every pid
// strategy failed. Repeats within the same thread get an ordinal suffix so
// two distinct posts never collapse onto one archive key.
func assignSyntheticIDs(posts []Post) {
	used := make(map[string]int)
	for i := range posts {
		if posts[i].PostID != "" {
			continue
		}
		base := SyntheticIDPrefix + posts[i].ThreadID
		used[base]++
		id := base
		if n := used[base]; n > 1 {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		posts[i].PostID = id
		posts[i].SyntheticID = true
		posts[i].URL = postURL(posts[i].ThreadID, "")
	}
}

func extractImages(content *goquery.Selection) []string {
	var images []string
	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("data-srcorg"); ok && src != "" {
			images = append(images, src)
			return
		}
		if src, ok := img.Attr("src"); ok &&
			strings.HasPrefix(src, "http") && !strings.Contains(src, "about:blank") {
			images = append(images, src)
		}
	})
	return images
}

func postURL(tid, pid string) string {
	url := "https://nga.178.com/read.php?tid=" + tid
	if pid != "" && !strings.HasPrefix(pid, SyntheticIDPrefix) {
		url += "#pid" + pid
	}
	return url
}

// ParseDetailTime pulls the precise reply timestamp from a post detail
// page. Returns the raw text and its parse; ok is false when nothing
// parseable was found, in which case callers keep the listing value.
func ParseDetailTime(html, pid string) (raw string, t *time.Time, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil, false
	}

	candidates := []string{
		fmt.Sprintf("[id^=postdate][id$=%q]", pid),
		"[id^=postdate]",
		".postInfo span[title]",
	}
	for _, sel := range candidates {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		raw = strings.TrimSpace(node.Text())
		if raw == "" {
			raw, _ = node.Attr("title")
			raw = strings.TrimSpace(raw)
		}
		if parsed := parsePostTime(raw); parsed != nil {
			return raw, parsed, true
		}
	}
	return "", nil, false
}

func cleanText(s string) string {
	s = newlineRuns.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
