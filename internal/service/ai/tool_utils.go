package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"videoinsight/internal/logging"
	"videoinsight/internal/ratelimit"
)

const (
	SearchRateLimit      = 5
	SearchRateWindow     = time.Minute
	WebSearchHTTPTimeout = 10 * time.Second
	maxFetchBodySize     = 512 * 1024
)

var errSearchRateLimited = errors.New("web search rate limit exceeded for this analysis, answer with what you have")

// searchKey scopes the search budget to one analysis run.
func searchKey(ctx context.Context) string {
	id := logging.RunIDFromContext(ctx)
	if id == "" {
		id = "anonymous"
	}
	return runKey(id)
}

func runKey(runID string) string {
	return "run:" + runID
}

func allowSearch(ctx context.Context, limiter ratelimit.Limiter) error {
	if limiter == nil {
		return nil
	}
	ok, err := limiter.Allow(ctx, searchKey(ctx))
	if err != nil {
		return err
	}
	if !ok {
		return errSearchRateLimited
	}
	return nil
}

// fetchURL loads a page the model asked for. HTML is reduced to its title and
// visible text; other content types are returned as-is, capped at maxFetchBodySize.
func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "videoinsight-websearch/1.0")

	client := w.httpClient
	if client == nil {
		client = &http.Client{Timeout: WebSearchHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", parsed.Host, resp.Status)
	}

	body := io.LimitReader(resp.Body, maxFetchBodySize)
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return pageText(body)
}

func pageText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, svg, nav, footer").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if title == "" {
		return text, nil
	}
	return title + "\n\n" + text, nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
