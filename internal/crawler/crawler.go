package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/session"
)

// Config controls navigation and extraction behavior.
type Config struct {
	// AuthStatePath is the persisted storage-state file the browsing
	// context is keyed by.
	AuthStatePath string
	// NavTimeout bounds every page navigation. Never indefinite.
	NavTimeout time.Duration
	// SettleDelay lets client-side rendering finish after DOM ready.
	SettleDelay time.Duration
	// PageDelay spaces sequential history pages apart.
	PageDelay time.Duration
	// RateLimitBackoff is the pause before retrying a remotely throttled
	// page once.
	RateLimitBackoff time.Duration
	// CorrectTimes enables the detail-page timestamp correction pass for
	// records whose listing date lacks precision.
	CorrectTimes bool
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.PageDelay <= 0 {
		c.PageDelay = 2 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 10 * time.Second
	}
	return c
}

// navigator loads a URL in the session's browsing context and returns the
// rendered DOM. Swapped for a stub in tests.
type navigator func(ctx context.Context, sess *session.Session, url string) (string, error)

// Crawler drives listing and detail pages through the session pool.
type Crawler struct {
	pool     *session.Pool
	cfg      Config
	logger   *zap.Logger
	navigate navigator
}

// New creates a Crawler backed by chromedp navigation.
func New(pool *session.Pool, cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{pool: pool, cfg: cfg.withDefaults(), logger: logger}
	c.navigate = c.chromeNavigate
	return c
}

// FetchReplies crawls the author's current listing page and returns its
// post records, time-corrected when enabled.
func (c *Crawler) FetchReplies(ctx context.Context, listURL string) ([]Post, error) {
	sess, err := c.pool.Acquire(ctx, c.cfg.AuthStatePath)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(ctx, sess, true)

	posts, err := c.fetchPage(ctx, sess, listURL)
	if err != nil {
		return nil, err
	}
	c.logger.Info("listing crawled", zap.String("url", listURL), zap.Int("posts", len(posts)))

	if c.cfg.CorrectTimes {
		c.correctTimes(ctx, sess, posts)
	}
	return posts, nil
}

// FetchHistory crawls listing pages sequentially up to maxPages, reusing
// one browsing context for the whole run. onPage is invoked after every
// crawled page with that page's deduplicated records; its errors are logged
// and swallowed. The crawl stops early on an empty page, presumed end of
// history. Login expiry aborts the run; a remotely throttled page is
// retried once after a backoff before aborting.
func (c *Crawler) FetchHistory(ctx context.Context, listURL string, maxPages int, onPage func(page int, posts []Post) error) ([]Post, error) {
	sess, err := c.pool.Acquire(ctx, c.cfg.AuthStatePath)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(ctx, sess, true)

	var all []Post
	seen := make(map[string]struct{})

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("history crawl canceled: %w", err)
		}

		posts, err := c.fetchPage(ctx, sess, pageURL(listURL, page))
		if errors.Is(err, ErrRemoteRateLimited) {
			c.logger.Warn("remote throttled history page, backing off",
				zap.Int("page", page), zap.Duration("backoff", c.cfg.RateLimitBackoff))
			if !c.pause(ctx, c.cfg.RateLimitBackoff) {
				return all, fmt.Errorf("history crawl canceled: %w", ctx.Err())
			}
			posts, err = c.fetchPage(ctx, sess, pageURL(listURL, page))
		}
		switch {
		case errors.Is(err, ErrLoginExpired), errors.Is(err, ErrRemoteRateLimited):
			return all, err
		case err != nil:
			// Transient page failure: skip this page, keep going.
			c.logger.Warn("history page failed", zap.Int("page", page), zap.Error(err))
			continue
		}

		fresh := posts[:0:0]
		for _, p := range posts {
			if _, dup := seen[p.PostID]; dup {
				continue
			}
			seen[p.PostID] = struct{}{}
			fresh = append(fresh, p)
		}
		all = append(all, fresh...)
		c.logger.Info("history page crawled",
			zap.Int("page", page), zap.Int("rows", len(posts)), zap.Int("new", len(fresh)))

		if onPage != nil {
			if cbErr := onPage(page, fresh); cbErr != nil {
				c.logger.Warn("history page callback failed", zap.Int("page", page), zap.Error(cbErr))
			}
		}

		if len(posts) == 0 {
			c.logger.Info("empty history page, assuming end of history", zap.Int("page", page))
			break
		}
		if page < maxPages && !c.pause(ctx, c.cfg.PageDelay) {
			return all, fmt.Errorf("history crawl canceled: %w", ctx.Err())
		}
	}
	return all, nil
}

func (c *Crawler) fetchPage(ctx context.Context, sess *session.Session, url string) ([]Post, error) {
	html, err := c.navigate(ctx, sess, url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	posts, skipped, err := ParseListing(html, time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger.Debug("rows skipped during parse", zap.String("url", url), zap.Int("skipped", skipped))
	}
	return posts, nil
}

// correctTimes re-reads imprecise timestamps from each post's detail view.
// Failure keeps the listing value; nothing here may abort the crawl.
func (c *Crawler) correctTimes(ctx context.Context, sess *session.Session, posts []Post) {
	for i := range posts {
		if posts[i].SyntheticID || !timeImprecise(posts[i].PostDate) {
			continue
		}
		html, err := c.navigate(ctx, sess, posts[i].URL)
		if err != nil {
			c.logger.Debug("time correction fetch failed",
				zap.String("pid", posts[i].PostID), zap.Error(err))
			continue
		}
		raw, t, ok := ParseDetailTime(html, posts[i].PostID)
		if !ok {
			c.logger.Debug("time correction found nothing parseable", zap.String("pid", posts[i].PostID))
			continue
		}
		posts[i].PostDate = raw
		posts[i].PostTime = t
		posts[i].TimeAccurate = true
	}
}

// pause waits d or until ctx is done; returns false on cancellation.
func (c *Crawler) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Crawler) chromeNavigate(ctx context.Context, sess *session.Session, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	navCtx, cancel := context.WithTimeout(sess.Context(), c.cfg.NavTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func pageURL(listURL string, page int) string {
	if page <= 1 {
		return listURL
	}
	sep := "?"
	if strings.Contains(listURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", listURL, sep, page)
}
