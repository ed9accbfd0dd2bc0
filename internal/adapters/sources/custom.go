package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// Custom calls a user-supplied JSON endpoint with page and page_size query
// parameters and maps fields out of the array found at items_path.
type Custom struct {
	baseURL string
	client  client
}

func NewCustom(baseURL string, hc *http.Client) *Custom {
	return &Custom{baseURL: strings.TrimRight(baseURL, "/"), client: newClient("custom", hc)}
}

func (c *Custom) Name() string { return "custom" }

func (c *Custom) Defaults() map[string]interface{} {
	return map[string]interface{}{
		"max_pages":     3,
		"page_size":     10,
		"items_path":    "items",
		"title_field":   "title",
		"url_field":     "url",
		"snippet_field": "snippet",
	}
}

func (c *Custom) Validate(cfg map[string]interface{}) error {
	raw := domain.ConfigString(cfg, "url")
	if raw == "" && c.baseURL == "" {
		return domain.NewValidationError("custom source requires source_config.url")
	}
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.NewValidationError("custom source url: %v", err)
	}
	if !u.IsAbs() && c.baseURL == "" {
		return domain.NewValidationError("custom source url must be absolute")
	}
	return nil
}

func (c *Custom) endpoint(cfg map[string]interface{}) string {
	raw := domain.ConfigString(cfg, "url")
	if raw == "" {
		return c.baseURL
	}
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	return c.baseURL + "/" + strings.TrimLeft(raw, "/")
}

func (c *Custom) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	size := pageSize(req.PageSize, req.Config, 10)

	u, err := url.Parse(c.endpoint(req.Config))
	if err != nil {
		return nil, domain.NewValidationError("custom source url: %v", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(req.Page+1))
	q.Set("page_size", strconv.Itoa(size))
	if query := domain.ConfigString(req.Config, "query"); query != "" {
		q.Set("q", query)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.NewValidationError("custom: build request: %v", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	if headers, ok := req.Config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	body, err := c.client.do(httpReq)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.NewTerminalError("custom: malformed response", err)
	}

	path := domain.ConfigString(req.Config, "items_path")
	raw, ok := lookupPath(doc, path)
	if !ok {
		return nil, domain.NewTerminalError("custom: items_path "+path+" not found in response", nil)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, domain.NewTerminalError("custom: items_path "+path+" is not an array", nil)
	}

	titleField := domain.ConfigString(req.Config, "title_field")
	urlField := domain.ConfigString(req.Config, "url_field")
	snippetField := domain.ConfigString(req.Config, "snippet_field")

	page := &ports.Page{Items: make([]domain.Item, 0, len(list))}
	for _, entry := range list {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		page.Items = append(page.Items, domain.Item{
			Title:    stringField(obj, titleField),
			URL:      stringField(obj, urlField),
			Snippet:  stringField(obj, snippetField),
			Source:   "custom",
			Metadata: obj,
		})
	}

	if morePath := domain.ConfigString(req.Config, "has_more_path"); morePath != "" {
		more, _ := lookupPath(doc, morePath)
		page.HasMore, _ = more.(bool)
	} else {
		page.HasMore = len(list) >= size
	}
	return page, nil
}

// lookupPath walks a dotted path through nested objects. An empty path
// returns the document itself.
func lookupPath(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringField(obj map[string]interface{}, field string) string {
	if field == "" {
		return ""
	}
	v, ok := lookupPath(obj, field)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
