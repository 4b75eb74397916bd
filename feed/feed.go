// Package feed fetches and parses the CryptoJobsList RSS feed.
package feed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// maxDescriptionLen truncates cleaned descriptions so messages stay readable.
const maxDescriptionLen = 1000

// companyRegex extracts the company from link slugs like
// "staff-product-manager-remote-canada-at-shakepay".
var companyRegex = regexp.MustCompile(`-at-([^.]+)(?:\.png)?$`)

// pubDateLayouts are tried in order when parsing item publish timestamps.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// Item is one raw posting from the feed, with the description already
// reduced to plain text. Classification happens downstream.
type Item struct {
	Published   time.Time
	GUID        string
	Title       string
	Link        string
	Company     string
	Description string
}

// Client fetches the feed.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a feed client.
func New(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
	}
}

// rss mirrors the RSS 2.0 envelope.
type rss struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// Fetch downloads and parses the feed.
func (c *Client) Fetch(ctx context.Context) ([]Item, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8")

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Feed request failed, will retry", "url", c.url, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("Feed request completed",
				"url", c.url,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(startTime).Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read feed body: %w", err)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying feed fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch feed after retries: %w", err)
	}

	items, err := Parse(body, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Feed fetched", "url", c.url, "items", len(items))
	return items, nil
}

// Parse decodes an RSS document into items.
func Parse(body []byte, logger *slog.Logger) ([]Item, error) {
	var doc rss
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse feed XML: %w", err)
	}

	items := make([]Item, 0, len(doc.Channel.Items))
	for _, raw := range doc.Channel.Items {
		items = append(items, Item{
			Published:   parsePubDate(raw.PubDate, logger),
			GUID:        deriveGUID(raw.GUID, raw.Title, raw.Link),
			Title:       strings.TrimSpace(raw.Title),
			Link:        strings.TrimSpace(raw.Link),
			Company:     extractCompany(raw.Link),
			Description: CleanDescription(raw.Description),
		})
	}
	return items, nil
}

// deriveGUID falls back to a content hash when the feed omits a GUID.
// An item with neither GUID nor any content gets an empty identifier and is
// skipped downstream.
func deriveGUID(guid, title, link string) string {
	guid = strings.TrimSpace(guid)
	if guid != "" {
		return guid
	}
	if title == "" && link == "" {
		return ""
	}
	sum := md5.Sum([]byte(title + link))
	return hex.EncodeToString(sum[:])
}

func extractCompany(link string) string {
	m := companyRegex.FindStringSubmatch(link)
	if m == nil {
		return "Unknown Company"
	}
	words := strings.Split(strings.ReplaceAll(m[1], "-", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func parsePubDate(s string, logger *slog.Logger) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	logger.Warn("Unparseable pubDate", "value", s)
	return time.Time{}
}

// CleanDescription strips a description down to readable plain text:
// images go, the trailing "Tags:" paragraph goes, whitespace collapses,
// and anything past maxDescriptionLen is truncated.
func CleanDescription(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Fall back to the raw text rather than dropping the item.
		return truncate(strings.TrimSpace(html))
	}

	doc.Find("img").Remove()
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if strings.Contains(sel.Text(), "Tags:") {
			sel.Remove()
		}
	})

	var lines []string
	for line := range strings.SplitSeq(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return truncate(strings.Join(lines, "\n"))
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDescriptionLen {
		return s
	}
	return string(runes[:maxDescriptionLen-3]) + "..."
}
