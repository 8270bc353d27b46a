package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-helmwatch/internal/hazard"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 10 * time.Second

// Client talks to the remote sync endpoint over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

func (c *Client) FetchHazards(ctx context.Context) ([]hazard.Hazard, error) {
	a := fiber.Get(c.baseURL + "/hazards")
	a.Timeout(c.deadline(ctx))
	code, body, errs := a.Bytes()
	if err := requestError(code, body, errs); err != nil {
		return nil, err
	}
	var hazards []hazard.Hazard
	if err := json.Unmarshal(body, &hazards); err != nil {
		return nil, fmt.Errorf("decode hazards: %w", err)
	}
	return hazards, nil
}

func (c *Client) UploadTrack(ctx context.Context, track json.RawMessage, token string) error {
	return c.post(ctx, "/tracks", track, token)
}

func (c *Client) UploadHazard(ctx context.Context, h json.RawMessage, token string) error {
	return c.post(ctx, "/hazards", h, token)
}

func (c *Client) post(ctx context.Context, path string, payload []byte, token string) error {
	a := fiber.Post(c.baseURL + path)
	a.Timeout(c.deadline(ctx))
	a.ContentType(fiber.MIMEApplicationJSON)
	if token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	a.Body(payload)
	code, body, errs := a.Bytes()
	return requestError(code, body, errs)
}

// deadline shortens the client timeout to the context deadline, if sooner.
func (c *Client) deadline(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < c.timeout {
			return max(left, time.Millisecond)
		}
	}
	return c.timeout
}

func requestError(code int, body []byte, errs []error) error {
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("remote returned %d: %s", code, strings.TrimSpace(string(body)))
	}
	return nil
}
