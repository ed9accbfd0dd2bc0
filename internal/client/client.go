// Package client talks to a researchflow server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/researchflow/internal/domain"
)

const defaultPollInterval = 5 * time.Second

type Client struct {
	baseURL      string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	logger       *slog.Logger
	pollInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval overrides the interval used when the server does not
// advertise one.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, domain.NewValidationError("invalid server url %q", baseURL)
	}

	c := &Client{
		baseURL:      u.String(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		dialer:       websocket.DefaultDialer,
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	return c, nil
}

type CreatedFlow struct {
	FlowID string            `json:"flow_id"`
	Status domain.FlowStatus `json:"status"`
}

type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Health struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	ActiveFlows  int       `json:"active_flows"`
	PollInterval string    `json:"poll_interval"`
	Error        string    `json:"error,omitempty"`
}

func (c *Client) CreateFlow(ctx context.Context, req domain.CreateFlowRequest) (CreatedFlow, error) {
	var created CreatedFlow
	err := c.doJSON(ctx, http.MethodPost, "/research-flows", req, &created)
	return created, err
}

func (c *Client) ListFlows(ctx context.Context) ([]domain.FlowSummary, error) {
	var flows []domain.FlowSummary
	err := c.doJSON(ctx, http.MethodGet, "/research-flows", nil, &flows)
	return flows, err
}

func (c *Client) GetFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	var flow domain.Flow
	if err := c.doJSON(ctx, http.MethodGet, flowPath(flowID), nil, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (c *Client) StartFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	return c.transition(ctx, flowID, "start")
}

func (c *Client) PauseFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	return c.transition(ctx, flowID, "pause")
}

func (c *Client) ResumeFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	return c.transition(ctx, flowID, "resume")
}

func (c *Client) CancelFlow(ctx context.Context, flowID string) (domain.FlowSummary, error) {
	return c.transition(ctx, flowID, "cancel")
}

func (c *Client) DeleteFlow(ctx context.Context, flowID string) error {
	return c.doJSON(ctx, http.MethodDelete, flowPath(flowID), nil, nil)
}

func (c *Client) ListResults(ctx context.Context, flowID string) ([]domain.ResultRecord, error) {
	var results []domain.ResultRecord
	err := c.doJSON(ctx, http.MethodGet, flowPath(flowID)+"/results", nil, &results)
	return results, err
}

// ExportResult downloads one result rendered as format ("json" or
// "markdown").
func (c *Client) ExportResult(ctx context.Context, flowID, resultID, format string) (*Export, error) {
	path := flowPath(flowID) + "/results/" + url.PathEscape(resultID) + "/export"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError("read export", err)
	}
	return &Export{
		Filename:    filenameFrom(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Health returns the server health report. An unhealthy server answers
// with a report and a non-nil error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return health, domain.NewInternalError("build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return health, domain.NewTransientError("health check", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, domain.NewTransientError("decode health", err)
	}
	if resp.StatusCode != http.StatusOK {
		return health, domain.NewTransientError(fmt.Sprintf("server unhealthy: %s", health.Error), nil)
	}
	return health, nil
}

func (c *Client) transition(ctx context.Context, flowID, op string) (domain.FlowSummary, error) {
	var summary domain.FlowSummary
	err := c.doJSON(ctx, http.MethodPost, flowPath(flowID)+"/"+op, nil, &summary)
	return summary, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return domain.NewValidationError("encode request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewTransientError(fmt.Sprintf("decode %s %s", method, path), err)
	}
	return nil
}

// do sends one request and turns non-2xx answers into typed errors.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, domain.NewInternalError("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(fmt.Sprintf("%s %s", method, path), err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

type errorBody struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return &domain.Error{Type: typeForStatus(resp.StatusCode), Message: msg}
	}
	return &domain.Error{Type: domain.ParseErrorType(body.Type), Message: body.Error, Details: body.Details}
}

func typeForStatus(status int) domain.ErrorType {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrorTypeValidation
	case http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case http.StatusConflict:
		return domain.ErrorTypeOrchestration
	case http.StatusTooManyRequests:
		return domain.ErrorTypeRateLimited
	case http.StatusServiceUnavailable:
		return domain.ErrorTypeResourceExhausted
	case http.StatusBadGateway:
		return domain.ErrorTypeTransientBackend
	default:
		return domain.ErrorTypeInternal
	}
}

func flowPath(flowID string) string {
	return "/research-flows/" + url.PathEscape(flowID)
}

func filenameFrom(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
