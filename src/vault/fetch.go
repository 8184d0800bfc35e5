package vault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/scribehq/scribe/src/toolkit"
)

const maxPageSize = 5 * 1024 * 1024 // 5MB

const fetchPagePrompt = `Fetches a web page and returns its content as markdown or plain text.

HOW TO USE:
- Provide the URL to fetch
- Optionally pick a format: "markdown" (default) or "text"

LIMITATIONS:
- Only http and https URLs
- Responses larger than 5MB are truncated
- No authentication or cookies`

// FetchPageInput names the page to fetch.
type FetchPageInput struct {
	URL    string `json:"url" required:"true" description:"The http(s) URL to fetch"`
	Format string `json:"format,omitempty" description:"Output format: markdown (default) or text"`
}

// FetchPageOutput is the converted page content.
type FetchPageOutput struct {
	URL         string `json:"url"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// FetchPageTool returns the fetch_page tool. A nil client gets a default with
// a 30 second timeout.
func FetchPageTool(client *http.Client, logger *slog.Logger) toolkit.Tool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return toolkit.MustNewFunc("fetch_page", fetchPagePrompt, func(ctx context.Context, input FetchPageInput) (FetchPageOutput, error) {
		if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
			return FetchPageOutput{}, fmt.Errorf("url must start with http:// or https://")
		}
		format := strings.ToLower(input.Format)
		if format == "" {
			format = "markdown"
		}
		if format != "markdown" && format != "text" {
			return FetchPageOutput{}, fmt.Errorf("format must be markdown or text")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
		if err != nil {
			return FetchPageOutput{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", "scribe/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

		resp, err := client.Do(req)
		if err != nil {
			return FetchPageOutput{}, fmt.Errorf("fetch %s: %w", input.URL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return FetchPageOutput{}, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return FetchPageOutput{}, fmt.Errorf("read response: %w", err)
		}

		contentType := resp.Header.Get("Content-Type")
		content := convertPage(string(body), contentType, format, logger)

		logger.Info("fetched page", "url", input.URL, "status", resp.StatusCode, "size", len(body), "format", format)
		return FetchPageOutput{
			URL:         resp.Request.URL.String(),
			Content:     content,
			ContentType: contentType,
			StatusCode:  resp.StatusCode,
		}, nil
	})
}

func convertPage(body, contentType, format string, logger *slog.Logger) string {
	isHTML := strings.Contains(contentType, "text/html")
	switch format {
	case "text":
		if !isHTML {
			return body
		}
		text, err := htmlToText(body)
		if err != nil {
			logger.Warn("failed to extract text from html", "error", err)
			return body
		}
		return text
	case "markdown":
		if isHTML {
			markdown, err := htmlToMarkdown(body)
			if err != nil {
				logger.Warn("failed to convert html to markdown", "error", err)
				return "```html\n" + body + "\n```"
			}
			return markdown
		}
		if strings.Contains(contentType, "application/json") {
			return "```json\n" + body + "\n```"
		}
		return body
	}
	return body
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	for strings.Contains(markdown, "\n\n\n") {
		markdown = strings.ReplaceAll(markdown, "\n\n\n", "\n\n")
	}
	return markdown, nil
}
