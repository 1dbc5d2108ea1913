// Package web provides the web fetch tool. Search is delegated to the
// fetch of a search endpoint by the caller; the tool itself only does
// bounded HTTP GETs.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"codeforge/internal/tools"
)

const maxBodyBytes = 100000

// FetchTool returns the URL fetch tool.
func FetchTool() *tools.Tool {
	client := &http.Client{}
	return &tools.Tool{
		Name:        "web",
		Description: "Fetch the contents of an http(s) URL",
		Category:    tools.CategoryWeb,
		Sensitivity: tools.SensitivityMedium,
		Schema: tools.Schema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {Type: "string", Description: "URL to fetch; must be http or https"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must be http or https")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", fmt.Errorf("invalid url: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch failed: status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return "", fmt.Errorf("read failed: %w", err)
			}
			return string(body), nil
		},
	}
}
