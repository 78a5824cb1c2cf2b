// Package notify delivers new reply notifications to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/crawler"
)

var (
	replyUserPattern = regexp.MustCompile(`\[([^\]]+)\]\s*\(([^\)]+)\)`)
	quoteTimePattern = regexp.MustCompile(`\(\d{4}-\d{2}-\d{2}[\s\d:]+\)`)
	imgNoisePattern  = regexp.MustCompile(`^显示图片\(\d+K\)`)
)

const (
	embedColor   = 0xe74c3c
	maxMainRunes = 900
	maxQuoteRuns = 350
)

// Embed is the Discord embed payload shape.
type Embed struct {
	Title     string      `json:"title"`
	URL       string      `json:"url,omitempty"`
	Color     int         `json:"color"`
	Fields    []Field     `json:"fields"`
	Image     *EmbedImage `json:"image,omitempty"`
	Footer    Footer      `json:"footer"`
	Timestamp string      `json:"timestamp"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type Footer struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Embeds []Embed `json:"embeds"`
}

// Sender posts reply embeds to a single Discord webhook.
type Sender struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewSender(webhookURL string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// SendReply delivers one post as an embed. Delivery failures are retried
// with backoff; a non-retryable status or exhausted retries returns an
// error so the caller can record the attempt as failed.
func (s *Sender) SendReply(ctx context.Context, targetName string, post crawler.Post) error {
	if s.webhookURL == "" {
		return fmt.Errorf("discord webhook url not configured")
	}

	body, err := json.Marshal(webhookPayload{Embeds: []Embed{s.buildEmbed(targetName, post)}})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := s.client.Do(req)
			if err != nil {
				return fmt.Errorf("post webhook: %w", err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

			switch {
			case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("webhook returned HTTP %d", resp.StatusCode))
			}
		},
		retry.Attempts(4),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("webhook delivery retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}

	s.logger.Info("notification sent",
		zap.String("target", targetName), zap.String("pid", post.PostID))
	return nil
}

func (s *Sender) buildEmbed(targetName string, post crawler.Post) Embed {
	replyToUser, replyToTime, quote := splitQuote(post.QuoteContent)
	main := strings.TrimSpace(imgNoisePattern.ReplaceAllString(post.MainContent, ""))
	if main == "" {
		main = "无内容"
	}

	title := "💬 " + truncate(targetName, 250)
	if targetName == "" {
		title = "💬 " + truncate(firstNonEmpty(post.TopicTitle, "未知主题"), 250)
	}

	embed := Embed{
		Title: title,
		URL:   notifyURL(post.URL),
		Color: embedColor,
		Footer: Footer{
			Text: fmt.Sprintf("TID: %s | PID: %s",
				firstNonEmpty(post.ThreadID, "N/A"), firstNonEmpty(post.PostID, "N/A")),
		},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}

	embed.Fields = append(embed.Fields, Field{
		Name:  "📝 正文回复",
		Value: truncate("```"+truncate(main, maxMainRunes)+"```", 1024),
	})

	info := []string{"📌 **主题**\n" + truncate(firstNonEmpty(post.TopicTitle, "未知主题"), 200)}
	if replyToUser != "" {
		line := "**回复对象**\n" + replyToUser
		if replyToTime != "" {
			line += " (" + replyToTime + ")"
		}
		info = append(info, line)
	}
	if quote != "" {
		q := truncate(quote, maxQuoteRuns)
		if q != quote {
			q += "..."
		}
		info = append(info, "**引用原文**\n"+q)
	}
	embed.Fields = append(embed.Fields, Field{
		Name:  "─────────────────────────────",
		Value: truncate(strings.Join(info, "\n\n"), 1024),
	})

	if len(post.Images) > 0 {
		embed.Image = &EmbedImage{URL: post.Images[0]}
		if len(post.Images) > 1 {
			var lines []string
			for i, u := range post.Images[1:] {
				if i >= 4 {
					lines = append(lines, fmt.Sprintf("... 还有 %d 张图片", len(post.Images)-5))
					break
				}
				lines = append(lines, fmt.Sprintf("[%d] %s", i+1, u))
			}
			embed.Fields = append(embed.Fields, Field{
				Name:  fmt.Sprintf("🖼️ 其他图片 (%d 张)", len(post.Images)-1),
				Value: truncate(strings.Join(lines, "\n"), 1024),
			})
		}
	}
	return embed
}

// splitQuote pulls the quoted author and timestamp out of the quote header
// and strips the header from the quote body.
func splitQuote(quote string) (user, when, body string) {
	if quote == "" {
		return "", "", ""
	}
	if m := replyUserPattern.FindStringSubmatch(quote); m != nil {
		user, when = m[1], m[2]
	}
	if loc := quoteTimePattern.FindStringIndex(quote); loc != nil {
		body = strings.TrimSpace(quote[loc[1]:])
		return user, when, body
	}
	lines := strings.Split(quote, "\n")
	if len(lines) > 1 {
		return user, when, strings.TrimSpace(strings.Join(lines[1:], "\n"))
	}
	return user, when, quote
}

// notifyURL jumps the reader to the last page of the thread, keeping any
// #pid fragment at the end where browsers expect it.
func notifyURL(u string) string {
	if !strings.Contains(u, "tid=") {
		return u
	}
	base, frag, hasFrag := strings.Cut(u, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	base += sep + "page=9999"
	if hasFrag {
		base += "#" + frag
	}
	return base
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
