package sources

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

const defaultArxivBaseURL = "http://export.arxiv.org"

// Arxiv reads the Atom feed of the arXiv query API.
type Arxiv struct {
	baseURL string
	client  client
}

func NewArxiv(baseURL string, hc *http.Client) *Arxiv {
	if baseURL == "" {
		baseURL = defaultArxivBaseURL
	}
	return &Arxiv{baseURL: strings.TrimRight(baseURL, "/"), client: newClient("arxiv", hc)}
}

func (a *Arxiv) Name() string { return "arxiv" }

func (a *Arxiv) Defaults() map[string]interface{} {
	return map[string]interface{}{"max_pages": 3, "page_size": 10, "sort_by": "relevance"}
}

func (a *Arxiv) Validate(cfg map[string]interface{}) error {
	return requireQuery("arxiv", cfg)
}

type atomFeed struct {
	TotalResults int         `xml:"totalResults"`
	Entries      []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

func (a *Arxiv) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	size := pageSize(req.PageSize, req.Config, 10)
	start := req.Page * size

	q := url.Values{}
	query := domain.ConfigString(req.Config, "query")
	if !strings.Contains(query, ":") {
		query = "all:" + query
	}
	q.Set("search_query", query)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(size))
	if s := domain.ConfigString(req.Config, "sort_by"); s != "" {
		q.Set("sortBy", s)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/query?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewValidationError("arxiv: build request: %v", err)
	}

	body, err := a.client.do(httpReq)
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, domain.NewTerminalError("arxiv: malformed feed", err)
	}

	page := &ports.Page{Items: make([]domain.Item, 0, len(feed.Entries))}
	for _, e := range feed.Entries {
		authors := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			authors = append(authors, au.Name)
		}
		categories := make([]string, 0, len(e.Categories))
		for _, c := range e.Categories {
			categories = append(categories, c.Term)
		}
		page.Items = append(page.Items, domain.Item{
			Title:       collapseSpace(e.Title),
			URL:         e.ID,
			Snippet:     collapseSpace(e.Summary),
			Source:      "arxiv",
			PublishedAt: parseTime(time.RFC3339, e.Published),
			Metadata:    map[string]interface{}{"authors": authors, "categories": categories},
		})
	}
	page.HasMore = len(feed.Entries) > 0 && start+len(feed.Entries) < feed.TotalResults
	return page, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
