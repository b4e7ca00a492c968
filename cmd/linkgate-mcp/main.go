package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// resolveResponse mirrors the linkgate API response model.
type resolveResponse struct {
	Success     bool   `json:"success"`
	OriginalURL string `json:"originalUrl"`
	FinalURL    string `json:"finalUrl"`
	Metadata    *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"metadata"`
	Warnings []string `json:"warnings"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// batchResponse mirrors the linkgate batch API response.
type batchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// batchStatusResponse mirrors the linkgate batch status API response.
type batchStatusResponse struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Completed int                `json:"completed"`
	Total     int                `json:"total"`
	Results   []*resolveResponse `json:"results"`
}

func main() {
	apiURL := os.Getenv("LINKGATE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiURL = strings.TrimRight(apiURL, "/")

	s := server.NewMCPServer(
		"linkgate",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	resolveLinkTool := mcp.NewTool("resolve_link",
		mcp.WithDescription("Resolve an ad-gate or link-shortener URL to its final destination using a real browser. Fails if the page shows a CAPTCHA."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The shortened or gated URL, with http:// or https://"),
		),
	)
	s.AddTool(resolveLinkTool, handleResolveLink(apiURL))

	resolveLinksTool := mcp.NewTool("resolve_links",
		mcp.WithDescription("Resolve several shortened or gated URLs in parallel and return the destination of each."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to resolve"),
		),
	)
	s.AddTool(resolveLinksTool, handleResolveLinks(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the linkgate API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

// formatResult renders one resolution for the model.
func formatResult(r *resolveResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Final URL: %s\n", r.FinalURL)
	if r.Metadata != nil {
		if r.Metadata.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", r.Metadata.Title)
		}
		if r.Metadata.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", r.Metadata.Description)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&sb, "Warnings: %s\n", strings.Join(r.Warnings, ", "))
	}
	return sb.String()
}

func errorText(r *resolveResponse, fallback string) string {
	if r.Error == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", r.Error.Code, r.Error.Message)
}

func handleResolveLink(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, "/api/v1/resolve", map[string]string{"url": url})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve request failed: %v", err)), nil
		}

		var resp resolveResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText(&resp, "resolve failed")), nil
		}

		return mcp.NewToolResultText(formatResult(&resp)), nil
	}
}

func handleResolveLinks(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		// POST to create batch job.
		respBody, err := apiPost(ctx, client, apiURL, "/api/v1/resolve/batch", map[string]any{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var batchResp batchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if batchResp.ID == "" {
			msg := "batch job creation failed"
			if batchResp.Error != nil {
				msg = fmt.Sprintf("[%s] %s", batchResp.Error.Code, batchResp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}

		// Poll for completion.
		resultBody, err := pollJobCompletion(ctx, client, apiURL, "/api/v1/resolve/batch/"+batchResp.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		var statusResp batchStatusResponse
		if err := json.Unmarshal(resultBody, &statusResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch status: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Batch %s: %s (%d/%d resolved)\n\n", statusResp.ID, statusResp.Status, statusResp.Completed, statusResp.Total)
		for i, r := range statusResp.Results {
			original := ""
			if i < len(urls) {
				original = urls[i]
			}
			switch {
			case r == nil:
				fmt.Fprintf(&sb, "--- [%d] %s: no result ---\n\n", i+1, original)
			case r.Success:
				fmt.Fprintf(&sb, "--- [%d] %s ---\n%s\n", i+1, original, formatResult(r))
			default:
				fmt.Fprintf(&sb, "--- [%d] %s FAILED: %s ---\n\n", i+1, original, errorText(r, "unknown error"))
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
