package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cws "github.com/coder/websocket"
	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/duration"
	"github.com/fentz26/utimer/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the utimer API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTimers fetches timers; active limits the result to pending and running ones.
func (c *Client) ListTimers(active bool) ([]models.TimerTask, error) {
	path := "/timers"
	if active {
		path += "?active=true"
	}
	var tasks []models.TimerTask
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTimer fetches a single timer
func (c *Client) GetTimer(id string) (*models.TimerTask, error) {
	var task models.TimerTask
	if err := c.get("/timers/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTimer creates and starts a timer.
func (c *Client) CreateTimer(req controlplane.CreateRequest) (*models.TimerTask, error) {
	var task models.TimerTask
	if err := c.post("/timers", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ModifyTimer restarts a timer's countdown with a new length parsed from text.
func (c *Client) ModifyTimer(id, text string) (*models.TimerTask, error) {
	var task models.TimerTask
	req := controlplane.ModifyRequest{DurationText: text}
	if err := c.post("/timers/"+url.PathEscape(id)+"/modify", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTimer cancels a timer
func (c *Client) CancelTimer(id string) (*models.TimerTask, error) {
	var task models.TimerTask
	if err := c.post("/timers/"+url.PathEscape(id)+"/cancel", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartTimer starts a deferred timer
func (c *Client) StartTimer(id string) (*models.TimerTask, error) {
	var task models.TimerTask
	if err := c.post("/timers/"+url.PathEscape(id)+"/start", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Cleanup removes finished timers older than days. Zero uses the daemon's retention.
func (c *Client) Cleanup(days int) (int, error) {
	var res controlplane.CleanupResponse
	if err := c.post("/maintenance/cleanup", map[string]int{"days": days}, &res); err != nil {
		return 0, err
	}
	return res.Removed, nil
}

// Stats fetches store and scheduler statistics
func (c *Client) Stats() (*controlplane.StatsResponse, error) {
	var stats controlplane.StatsResponse
	if err := c.get("/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Parse asks the daemon to parse duration text.
func (c *Client) Parse(text string) (*duration.Result, error) {
	var res duration.Result
	if err := c.get("/parse?text="+url.QueryEscape(text), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.OK, nil
}

// EventStream delivers fire events pushed by the daemon.
type EventStream struct {
	conn *cws.Conn
}

// Subscribe opens the /events websocket.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/events"
	conn, _, err := cws.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to events: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks until the next event arrives.
func (s *EventStream) Next(ctx context.Context) (models.FireEvent, error) {
	var ev models.FireEvent
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Close closes the stream.
func (s *EventStream) Close() error {
	return s.conn.Close(cws.StatusNormalClosure, "")
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) post(path string, data, out interface{}) error {
	var body io.Reader = http.NoBody
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
