package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"radarss/internal/domain"
)

const (
	requestTimeout   = 30 * time.Second
	errorBodyLimit   = 512
	calendarPath     = "/api/v3/calendar"
	notificationPath = "/api/v3/notification"
	queuePath        = "/api/v3/queue"
)

// Client issues authenticated read requests against a single Radarr
// instance. It never retries; retry policy belongs to the caller.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

func New(baseURL string, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

type CalendarParams struct {
	Start       time.Time
	End         time.Time
	Unmonitored bool
}

type QueueParams struct {
	PageSize                 int
	IncludeUnknownMovieItems bool
}

// FetchCalendar returns the upcoming-release list as a JSON array.
func (c *Client) FetchCalendar(ctx context.Context, params CalendarParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("start", params.Start.UTC().Format(time.RFC3339))
	q.Set("end", params.End.UTC().Format(time.RFC3339))
	q.Set("unmonitored", strconv.FormatBool(params.Unmonitored))

	return c.getList(ctx, calendarPath, q)
}

// FetchNotifications returns the configured notification connections as
// a JSON array.
func (c *Client) FetchNotifications(ctx context.Context) (json.RawMessage, error) {
	return c.getList(ctx, notificationPath, nil)
}

// FetchQueue returns the download queue as a JSON array. The upstream
// response may be a bare array or a {records: [...]} page envelope;
// both are normalized here so nothing downstream sees the envelope.
func (c *Client) FetchQueue(ctx context.Context, params QueueParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("pageSize", strconv.Itoa(params.PageSize))
	q.Set("includeUnknownMovieItems", strconv.FormatBool(params.IncludeUnknownMovieItems))

	body, err := c.get(ctx, queuePath, q)
	if err != nil {
		return nil, err
	}

	return normalizeQueue(body)
}

func (c *Client) getList(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("[]"), nil
	}
	if !json.Valid(trimmed) || trimmed[0] != '[' {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("expected JSON array from %s", path)}
	}

	return json.RawMessage(trimmed), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Message: err.Error()}
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.WarnContext(ctx, "Failed to close response body",
				"error", err,
				"path", path)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		message := string(bytes.TrimSpace(snippet))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		return nil, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("read response body: %v", err)}
	}

	c.log.DebugContext(ctx, "Upstream request completed",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"latencyMs", time.Since(start).Milliseconds())

	return body, nil
}

func normalizeQueue(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("[]"), nil
	}

	switch trimmed[0] {
	case '[':
		if !json.Valid(trimmed) {
			return nil, &domain.UpstreamError{Message: "invalid JSON array from queue endpoint"}
		}
		return json.RawMessage(trimmed), nil
	case '{':
		var envelope struct {
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, &domain.UpstreamError{Message: fmt.Sprintf("decode queue envelope: %v", err)}
		}
		if len(envelope.Records) == 0 || string(envelope.Records) == "null" {
			return json.RawMessage("[]"), nil
		}
		return envelope.Records, nil
	}

	return nil, &domain.UpstreamError{Message: "unexpected queue response shape"}
}
