package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHub searches repositories through the REST search API.
type GitHub struct {
	baseURL string
	client  client
}

func NewGitHub(baseURL string, hc *http.Client) *GitHub {
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	return &GitHub{baseURL: strings.TrimRight(baseURL, "/"), client: newClient("github", hc)}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Defaults() map[string]interface{} {
	return map[string]interface{}{"max_pages": 3, "page_size": 10, "sort": "stars", "order": "desc"}
}

func (g *GitHub) Validate(cfg map[string]interface{}) error {
	return requireQuery("github", cfg)
}

type githubResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
		Language    string `json:"language"`
		UpdatedAt   string `json:"updated_at"`
	} `json:"items"`
}

func (g *GitHub) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	size := pageSize(req.PageSize, req.Config, 10)

	q := url.Values{}
	q.Set("q", domain.ConfigString(req.Config, "query"))
	q.Set("page", strconv.Itoa(req.Page+1))
	q.Set("per_page", strconv.Itoa(size))
	if s := domain.ConfigString(req.Config, "sort"); s != "" {
		q.Set("sort", s)
	}
	if o := domain.ConfigString(req.Config, "order"); o != "" {
		q.Set("order", o)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search/repositories?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewValidationError("github: build request: %v", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	var resp githubResponse
	if err := g.client.getJSON(httpReq, &resp); err != nil {
		return nil, err
	}

	page := &ports.Page{Items: make([]domain.Item, 0, len(resp.Items))}
	for _, r := range resp.Items {
		page.Items = append(page.Items, domain.Item{
			Title:       r.FullName,
			URL:         r.HTMLURL,
			Snippet:     r.Description,
			Source:      "github",
			PublishedAt: parseTime(time.RFC3339, r.UpdatedAt),
			Metadata:    map[string]interface{}{"stars": r.Stars, "language": r.Language},
		})
	}
	page.HasMore = len(resp.Items) > 0 && (req.Page+1)*size < resp.TotalCount
	return page, nil
}
