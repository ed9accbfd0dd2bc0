package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eleven-am/researchflow/internal/domain"
)

// Watch reports every new snapshot of a flow to fn until the flow reaches a
// terminal status, and returns that final snapshot. It listens on the push
// channel and falls back to polling when the channel cannot be opened or
// drops mid-stream.
func (c *Client) Watch(ctx context.Context, flowID string, fn func(*domain.Flow)) (*domain.Flow, error) {
	if fn == nil {
		fn = func(*domain.Flow) {}
	}

	last, err := c.watchSocket(ctx, flowID, fn)
	if err == nil {
		return last, nil
	}
	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	if domain.IsNotFound(err) || domain.IsValidation(err) {
		return last, err
	}

	c.logger.Warn("push channel unavailable, polling", "flow_id", flowID, "error", err)
	return c.poll(ctx, flowID, last, fn)
}

func (c *Client) socketURL(flowID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws" + flowPath(flowID)
}

func (c *Client) watchSocket(ctx context.Context, flowID string, fn func(*domain.Flow)) (*domain.Flow, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.socketURL(flowID), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, domain.NewTransientError("open push channel", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var last *domain.Flow
	for {
		var flow domain.Flow
		if err := conn.ReadJSON(&flow); err != nil {
			var closeErr *websocket.CloseError
			switch {
			case ctx.Err() != nil:
				return last, ctx.Err()
			case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
				if last != nil && last.Status.IsTerminal() {
					return last, nil
				}
				return last, domain.NewNotFoundError("flow", flowID)
			default:
				return last, domain.NewTransientError("push channel", err)
			}
		}

		snapshot := flow
		last = &snapshot
		fn(last)
	}
}

func (c *Client) poll(ctx context.Context, flowID string, last *domain.Flow, fn func(*domain.Flow)) (*domain.Flow, error) {
	interval := c.pollInterval
	if health, err := c.Health(ctx); err == nil {
		if d, err := time.ParseDuration(health.PollInterval); err == nil && d > 0 {
			interval = d
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		flow, err := c.GetFlow(ctx, flowID)
		switch {
		case err == nil:
			if last == nil || flow.UpdatedAt.After(last.UpdatedAt) {
				last = flow
				fn(flow)
			}
			if flow.Status.IsTerminal() {
				return flow, nil
			}
		case domain.IsNotFound(err):
			return last, err
		default:
			c.logger.Debug("poll failed", "flow_id", flowID, "error", err)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
