package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vigia/internal/transport"
)

// Incident status values accepted by the backend.
const (
	StatusNew        = "new"
	StatusResolved   = "resolved"
	StatusFalseAlarm = "false_alarm"
)

// APITime accepts both RFC 3339 and the backend's naive ISO timestamps.
type APITime struct {
	time.Time
}

func (t *APITime) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("incident: unparseable timestamp %q", s)
}

// Detail is a historical incident as served by the backend.
type Detail struct {
	ID            int64       `json:"id"`
	Timestamp     APITime     `json:"timestamp"`
	ViolenceScore float64     `json:"violence_score"`
	Location      string      `json:"location"`
	Status        string      `json:"status"`
	ClipPath      string      `json:"clip_path"`
	Persons       []PersonBox `json:"persons"`
}

// PersonBox is a tracked person attached to a historical incident.
type PersonBox struct {
	ID          int64     `json:"id"`
	PersonID    int       `json:"person_id"`
	BoundingBox []float64 `json:"bounding_box"`
}

// Filter narrows an incident history query.
type Filter struct {
	Status string
	From   time.Time
	To     time.Time
	Skip   int
	Limit  int
}

// Stats are the aggregate incident counts for a day.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Date     string         `json:"date"`
}

// Setting is one runtime configuration entry on the backend.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Client consumes the backend's REST interface: incident history, stats
// and runtime settings. A bearer token from the token source is attached
// when present; anonymous operation is allowed.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  transport.TokenSource
}

// NewClient creates a client for the backend at baseURL. tokens may be nil.
func NewClient(baseURL string, tokens transport.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
	}
}

// List returns historical incidents, newest first.
func (c *Client) List(ctx context.Context, f Filter) ([]Detail, error) {
	q := url.Values{}
	if f.Skip > 0 {
		q.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if !f.From.IsZero() {
		q.Set("start_date", f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("end_date", f.To.Format(time.RFC3339))
	}

	var incidents []Detail
	if err := c.do(ctx, http.MethodGet, "/api/incidents", q, nil, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

// Get returns one historical incident.
func (c *Client) Get(ctx context.Context, id int64) (*Detail, error) {
	var incident Detail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/incidents/%d", id), nil, nil, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// UpdateStatus sets an incident's status. The backend treats it as
// idempotent.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status string) (*Detail, error) {
	switch status {
	case StatusNew, StatusResolved, StatusFalseAlarm:
	default:
		return nil, fmt.Errorf("incident: invalid status %q", status)
	}
	q := url.Values{"status": []string{status}}
	var incident Detail
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/incidents/%d", id), q, nil, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// TodayStats returns today's aggregate incident counts.
func (c *Client) TodayStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats/today", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSetting reads one runtime configuration value from the backend.
func (c *Client) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	if err := c.do(ctx, http.MethodGet, "/api/settings/"+url.PathEscape(key), nil, nil, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

// UpdateSetting writes one runtime configuration value to the backend.
func (c *Client) UpdateSetting(ctx context.Context, key, value string) (*Setting, error) {
	body := map[string]string{"value": value}
	var setting Setting
	if err := c.do(ctx, http.MethodPut, "/api/settings/"+url.PathEscape(key), nil, body, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("incident: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("incident: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("incident: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("incident: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("incident: decode response: %w", err)
		}
	}
	return nil
}
