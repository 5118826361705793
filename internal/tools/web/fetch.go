// Package web provides the web_fetch tool. Fetching arbitrary URLs
// reaches outside the project sandbox, so the tool sits in the
// privileged tier and is normally invoked only with explicit consent.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"toolgate/internal/logging"
	"toolgate/internal/tools"
)

const (
	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 2 << 20

	// defaultMaxChars truncates the converted output.
	defaultMaxChars = 50000
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// FetchTool returns a tool that fetches a web page and reduces it to
// readable text.
func FetchTool() *tools.Tool {
	return &tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its content as plain text",
		Category:    tools.CategoryGeneral,
		Priority:    60,
		Execute:     executeFetch,
		Schema: tools.ToolSchema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {
					Type:        "string",
					Description: "The http(s) URL to fetch",
				},
				"max_length": {
					Type:        "number",
					Description: "Maximum content length in characters (default: 50000)",
				},
			},
		},
	}
}

// RegisterAll registers the web tools with the given registry.
func RegisterAll(registry *tools.Registry) error {
	return registry.Register(FetchTool())
}

func executeFetch(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: only http and https are allowed", parsed.Scheme)
	}

	maxChars := defaultMaxChars
	if ml, ok := args["max_length"].(float64); ok && ml > 0 {
		maxChars = int(ml)
	}

	logging.ToolsDebug("web_fetch: url=%s max=%d", rawURL, maxChars)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "toolgate/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "xhtml") {
		text, err = htmlToText(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to extract text: %w", err)
		}
	} else {
		text = string(body)
	}

	if len(text) > maxChars {
		text = text[:maxChars] + "\n\n[...truncated...]"
	}
	return text, nil
}

// htmlToText strips markup and keeps headings and paragraphs readable.
func htmlToText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb, 0)

	out := sb.String()
	out = multiSpacePattern.ReplaceAllString(out, " ")
	out = multiNewlinePattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
			sb.WriteString(strings.Repeat("#", int(n.Data[1]-'0')))
			sb.WriteString(" ")
		case "p", "div", "section", "article", "li", "br", "tr":
			sb.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}
