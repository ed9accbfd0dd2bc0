package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
)

const maxBodyBytes = 8 << 20

// client wraps http.Client with the status classification every source
// shares.
type client struct {
	http    *http.Client
	service string
}

func newClient(service string, hc *http.Client) client {
	if hc == nil {
		hc = &http.Client{}
	}
	return client{http: hc, service: service}
}

// do sends req and returns the body of a 2xx response. Other statuses are
// mapped onto the error taxonomy.
func (c client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(req.Context(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewTransientError(c.service+": read response", redact(err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classifyStatus(c.service, resp.StatusCode, resp.Header.Get("Retry-After"), body)
}

func (c client) getJSON(req *http.Request, out interface{}) error {
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewTerminalError(c.service+": malformed response", err)
	}
	return nil
}

func (c client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.NewTransientError(c.service+": request failed", redact(err))
}

// redact drops the request URL from transport errors; it may carry an API key.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func classifyStatus(service string, status int, retryAfter string, body []byte) error {
	msg := fmt.Sprintf("%s: http %d", service, status)
	if snippet := bodySnippet(body); snippet != "" {
		msg += ": " + snippet
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &domain.Error{
			Type:       domain.ErrorTypeRateLimited,
			Message:    msg,
			RetryAfter: parseRetryAfter(retryAfter, time.Now()),
			Details:    map[string]interface{}{"service": service, "status": status},
		}
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status >= 500:
		return domain.NewTransientError(msg, nil).WithDetail("status", status)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.NewTerminalError(msg, nil).WithDetail("status", status).WithDetail("reason", "auth")
	default:
		return domain.NewTerminalError(msg, nil).WithDetail("status", status).WithDetail("reason", "malformed request")
	}
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func bodySnippet(body []byte) string {
	const max = 200
	if len(body) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return string(body)
}

func pageSize(req int, cfg map[string]interface{}, fallback int) int {
	if n := domain.ConfigInt(cfg, "page_size", 0); n > 0 {
		return n
	}
	if req > 0 {
		return req
	}
	return fallback
}

func requireQuery(service string, cfg map[string]interface{}) error {
	if domain.ConfigString(cfg, "query") == "" {
		return domain.NewValidationError("%s source requires source_config.query", service)
	}
	return nil
}

func parseTime(layout, v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return nil
	}
	return &t
}
