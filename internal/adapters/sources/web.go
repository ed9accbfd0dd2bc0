package sources

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

const defaultWebBaseURL = "https://api.tavily.com"

// Web queries a JSON search endpoint: POST {base}/search.
type Web struct {
	baseURL string
	client  client
}

func NewWeb(baseURL string, hc *http.Client) *Web {
	if baseURL == "" {
		baseURL = defaultWebBaseURL
	}
	return &Web{baseURL: strings.TrimRight(baseURL, "/"), client: newClient("web", hc)}
}

func (w *Web) Name() string { return "web" }

func (w *Web) Defaults() map[string]interface{} {
	return map[string]interface{}{"max_pages": 3, "page_size": 10, "search_depth": "basic"}
}

func (w *Web) Validate(cfg map[string]interface{}) error {
	return requireQuery("web", cfg)
}

type webRequest struct {
	APIKey      string   `json:"api_key,omitempty"`
	Query       string   `json:"query"`
	Page        int      `json:"page"`
	MaxResults  int      `json:"max_results"`
	SearchDepth string   `json:"search_depth,omitempty"`
	Domains     []string `json:"include_domains,omitempty"`
}

type webResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
	HasMore *bool `json:"has_more"`
}

func (w *Web) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	size := pageSize(req.PageSize, req.Config, 10)
	payload, err := json.Marshal(webRequest{
		APIKey:      req.APIKey,
		Query:       domain.ConfigString(req.Config, "query"),
		Page:        req.Page + 1,
		MaxResults:  size,
		SearchDepth: domain.ConfigString(req.Config, "search_depth"),
		Domains:     domain.ConfigStrings(req.Config, "include_domains"),
	})
	if err != nil {
		return nil, domain.NewInternalError("encode web request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewValidationError("web: build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	var resp webResponse
	if err := w.client.getJSON(httpReq, &resp); err != nil {
		return nil, err
	}

	page := &ports.Page{Items: make([]domain.Item, 0, len(resp.Results))}
	for _, r := range resp.Results {
		page.Items = append(page.Items, domain.Item{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			Source:      "web",
			PublishedAt: parseTime(time.RFC3339, r.PublishedDate),
			Metadata:    map[string]interface{}{"score": r.Score},
		})
	}
	if resp.HasMore != nil {
		page.HasMore = *resp.HasMore
	} else {
		page.HasMore = len(resp.Results) >= size
	}
	return page, nil
}
