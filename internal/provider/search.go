package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily is a thin client for the Tavily web-search API.
type Tavily struct {
	apiKey string
	client *http.Client
}

// NewTavily creates a search client. If apiKey is empty, TAVILY_API_KEY is used.
func NewTavily(apiKey string) *Tavily {
	if apiKey == "" {
		apiKey = os.Getenv("TAVILY_API_KEY")
	}
	return &Tavily{apiKey: apiKey, client: &http.Client{}}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a basic-depth search and formats the top results as
// "[title](url): content" lines.
func (t *Tavily) Search(ctx context.Context, query string) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("tavily: api key missing")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  3,
	})
	if err != nil {
		return "", fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tavily: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily: status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out tavilyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("tavily: decode response: %w", err)
	}
	if len(out.Results) == 0 {
		return "", fmt.Errorf("tavily: no results")
	}

	lines := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		lines = append(lines, fmt.Sprintf("[%s](%s): %s", r.Title, r.URL, r.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// searchTriggers are the substrings that mark a message as needing live data.
var searchTriggers = []string{
	"weather", "mausam", "news", "khabar", "taza", "latest", "today", "aaj",
	"score", "match", "price", "bhaav", "rate", "who is", "kon hai", "what is", "kya hai",
	"youtube", "yt", "video", "link", "sunao", "play",
}

// ShouldSearch reports whether a message warrants a web search:
// case-insensitive trigger-substring match and a minimum length.
func ShouldSearch(message string) bool {
	lower := strings.ToLower(message)
	if len(lower) <= 5 {
		return false
	}
	for _, t := range searchTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
