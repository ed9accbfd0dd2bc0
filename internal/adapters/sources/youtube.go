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

const defaultYouTubeBaseURL = "https://www.googleapis.com"

// YouTube searches videos with the Data API v3. Pagination is by token.
type YouTube struct {
	baseURL string
	client  client
}

func NewYouTube(baseURL string, hc *http.Client) *YouTube {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTube{baseURL: strings.TrimRight(baseURL, "/"), client: newClient("youtube", hc)}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Defaults() map[string]interface{} {
	return map[string]interface{}{"max_pages": 3, "page_size": 10, "order": "relevance"}
}

func (y *YouTube) Validate(cfg map[string]interface{}) error {
	return requireQuery("youtube", cfg)
}

type youtubeResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

func (y *YouTube) Fetch(ctx context.Context, req ports.FetchRequest) (*ports.Page, error) {
	size := pageSize(req.PageSize, req.Config, 10)

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("q", domain.ConfigString(req.Config, "query"))
	q.Set("maxResults", strconv.Itoa(size))
	if o := domain.ConfigString(req.Config, "order"); o != "" {
		q.Set("order", o)
	}
	if req.Cursor != "" {
		q.Set("pageToken", req.Cursor)
	}
	if req.APIKey != "" {
		q.Set("key", req.APIKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/youtube/v3/search?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewValidationError("youtube: build request: %v", err)
	}

	var resp youtubeResponse
	if err := y.client.getJSON(httpReq, &resp); err != nil {
		return nil, err
	}

	page := &ports.Page{Items: make([]domain.Item, 0, len(resp.Items))}
	for _, v := range resp.Items {
		page.Items = append(page.Items, domain.Item{
			Title:       v.Snippet.Title,
			URL:         "https://www.youtube.com/watch?v=" + v.ID.VideoID,
			Snippet:     v.Snippet.Description,
			Source:      "youtube",
			PublishedAt: parseTime(time.RFC3339, v.Snippet.PublishedAt),
			Metadata:    map[string]interface{}{"channel": v.Snippet.ChannelTitle, "video_id": v.ID.VideoID},
		})
	}
	page.NextCursor = resp.NextPageToken
	page.HasMore = resp.NextPageToken != ""
	return page, nil
}
