package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is where the detection service listens.
const DefaultBaseURL = "http://127.0.0.1:8001"

// ErrUnreachable marks transport-level failures (refused, timeout, DNS) so
// callers can render a degraded UI instead of treating them like API errors.
var ErrUnreachable = errors.New("backend unreachable")

// ConnectionState reports the SSE transport's connectivity.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Client is the sole network gateway to the detection service. Every call
// takes a context and carries a request timeout; none hang indefinitely.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
	timeout    time.Duration

	eventCh   chan Event
	stateCh   chan ConnectionState
	sseCancel context.CancelFunc

	onMalformed func()
}

// Option adjusts client construction.
type Option func(*Client)

// WithTimeout overrides the per-request timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMalformedHook is called once per dropped event payload, for counters.
func WithMalformedHook(fn func()) Option {
	return func(c *Client) { c.onMalformed = fn }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, logger *zap.SugaredLogger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Timeout zero on the http.Client itself: the SSE stream must stay
		// open, so per-request deadlines come from contexts instead.
		httpClient: &http.Client{Timeout: 0},
		logger:     logger,
		timeout:    10 * time.Second,
		eventCh:    make(chan Event, 16),
		stateCh:    make(chan ConnectionState, 8),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) buildURL(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// do issues one request and decodes the JSON reply into out (which may be nil
// for callers that only care about the status code).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	u, err := c.buildURL(path)
	if err != nil {
		return err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// GetStatus fetches the live system snapshot.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// ListCameras fetches the full camera roster.
func (c *Client) ListCameras(ctx context.Context) ([]Camera, error) {
	var cams []Camera
	err := c.do(ctx, http.MethodGet, "/cameras", nil, &cams)
	return cams, err
}

// AddCamera registers a new camera. The backend assigns the id; callers must
// re-fetch the roster rather than trust the local copy.
func (c *Client) AddCamera(ctx context.Context, cam Camera) error {
	return c.do(ctx, http.MethodPost, "/cameras", cam, nil)
}

// ToggleCamera flips a camera's enabled flag.
func (c *Client) ToggleCamera(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/cameras/%d/toggle", id), nil, nil)
}

// DeleteCamera removes a camera.
func (c *Client) DeleteCamera(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/cameras/%d", id), nil, nil)
}

// TestCamera asks the backend to probe a camera configuration without saving it.
func (c *Client) TestCamera(ctx context.Context, cam Camera) (TestResult, error) {
	var res TestResult
	err := c.do(ctx, http.MethodPost, "/cameras/test", cam, &res)
	return res, err
}

// GetAlertSettings fetches alert delivery settings. The reply is normalized so
// the recipient collection is always a set, even for legacy single-id payloads.
func (c *Client) GetAlertSettings(ctx context.Context) (AlertSettings, error) {
	var s AlertSettings
	if err := c.do(ctx, http.MethodGet, "/alerts/settings", nil, &s); err != nil {
		return s, err
	}
	s.Normalize()
	return s, nil
}

// SaveAlertSettings persists alert delivery settings.
func (c *Client) SaveAlertSettings(ctx context.Context, s AlertSettings) error {
	s.Normalize()
	return c.do(ctx, http.MethodPost, "/alerts/settings", s, nil)
}

// GetHistory fetches the alert history, newest first.
func (c *Client) GetHistory(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := c.do(ctx, http.MethodGet, "/alerts/history", nil, &entries)
	return entries, err
}

// DeleteHistoryEntry removes one history entry server-side.
func (c *Client) DeleteHistoryEntry(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/alerts/history/%d", id), nil, nil)
}

// ListSnapshots fetches the stored detection snapshots.
func (c *Client) ListSnapshots(ctx context.Context) ([]MediaItem, error) {
	var items []MediaItem
	if err := c.do(ctx, http.MethodGet, "/snapshots", nil, &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Kind = MediaSnapshot
	}
	return items, nil
}

// ListRecordings fetches the stored recordings. The backend omits the
// download path for recordings, so it is derived from the file name.
func (c *Client) ListRecordings(ctx context.Context) ([]MediaItem, error) {
	var items []MediaItem
	if err := c.do(ctx, http.MethodGet, "/recordings", nil, &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Kind = MediaRecording
		if items[i].URL == "" {
			items[i].URL = "/recordings/" + items[i].Name
		}
	}
	return items, nil
}

// DeleteMedia removes one stored file, addressed by kind and file name.
func (c *Client) DeleteMedia(ctx context.Context, kind MediaKind, name string) error {
	var path string
	switch kind {
	case MediaSnapshot:
		path = "/api/snapshots/" + url.PathEscape(name)
	case MediaRecording:
		path = "/api/recordings/" + url.PathEscape(name)
	default:
		return fmt.Errorf("unknown media kind %q", kind)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// TestAlert sends a test message with the given credentials. When the backend
// resolves a chat id on its own, the result carries it for auto-fill.
func (c *Client) TestAlert(ctx context.Context, token, chatID string) (TestResult, error) {
	var res TestResult
	body := map[string]string{"telegram_token": token, "telegram_chat_id": chatID}
	err := c.do(ctx, http.MethodPost, "/alerts/test", body, &res)
	return res, err
}

// DiscoverRecipients scans recent bot conversations for candidate chats.
func (c *Client) DiscoverRecipients(ctx context.Context, token string) ([]Recipient, error) {
	var out struct {
		Users []Recipient `json:"users"`
	}
	body := map[string]string{"telegram_token": token}
	err := c.do(ctx, http.MethodPost, "/alerts/discover", body, &out)
	return out.Users, err
}

// TestFullPipeline triggers an end-to-end detection/delivery dry run.
func (c *Client) TestFullPipeline(ctx context.Context) (TestResult, error) {
	var res TestResult
	err := c.do(ctx, http.MethodPost, "/alerts/test_full", nil, &res)
	return res, err
}

// GetAppSettings fetches general shell preferences the backend persists.
func (c *Client) GetAppSettings(ctx context.Context) (AppSettings, error) {
	var s AppSettings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &s)
	return s, err
}

// SaveAppSettings persists general shell preferences.
func (c *Client) SaveAppSettings(ctx context.Context, s AppSettings) error {
	return c.do(ctx, http.MethodPost, "/settings", s, nil)
}

// Events returns the channel carrying parsed SSE envelopes. StartEvents must
// be running for anything to arrive.
func (c *Client) Events() <-chan Event { return c.eventCh }

// ConnectionStates exposes SSE connectivity updates for status consumers.
func (c *Client) ConnectionStates() <-chan ConnectionState { return c.stateCh }

// StartEvents opens the /events stream and keeps it alive for the session.
// Reconnection with exponential backoff lives here, in the transport; the
// notification layer on top never reconnects on its own.
func (c *Client) StartEvents(ctx context.Context) {
	sseCtx, cancel := context.WithCancel(ctx)
	c.sseCancel = cancel

	go func() {
		defer close(c.eventCh)
		defer close(c.stateCh)

		const (
			baseDelay = 2 * time.Second
			maxDelay  = 30 * time.Second
		)
		attempt := 0

		for {
			if sseCtx.Err() != nil {
				c.publishState(StateDisconnected)
				return
			}

			attempt++
			if attempt > 1 {
				shift := attempt - 2
				if shift > 4 {
					shift = 4
				}
				delay := baseDelay << shift
				if delay > maxDelay {
					delay = maxDelay
				}
				c.logger.Infow("Reconnecting event stream",
					"attempt", attempt,
					"delay", delay)
				select {
				case <-sseCtx.Done():
					c.publishState(StateDisconnected)
					return
				case <-time.After(delay):
				}
				c.publishState(StateReconnecting)
			} else {
				c.publishState(StateConnecting)
			}

			if err := c.consumeEvents(sseCtx); err != nil {
				if sseCtx.Err() != nil {
					c.publishState(StateDisconnected)
					return
				}
				c.logger.Warnw("Event stream dropped", "error", err, "attempt", attempt)
				continue
			}
			// Clean end of stream; reset backoff before reconnecting.
			attempt = 0
		}
	}()
}

// StopEvents tears down the SSE connection.
func (c *Client) StopEvents() {
	if c.sseCancel != nil {
		c.sseCancel()
	}
}

// consumeEvents holds one SSE connection open and forwards parsed envelopes.
func (c *Client) consumeEvents(ctx context.Context) error {
	u, err := c.buildURL("/events")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET /events: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	c.publishState(StateConnected)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		c.dispatchEvent(strings.TrimSpace(data))
	}
	return scanner.Err()
}

// dispatchEvent parses one data line. Malformed payloads are logged and
// dropped; they must never take the stream down.
func (c *Client) dispatchEvent(data string) {
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		c.logger.Warnw("Dropping malformed event payload", "error", err)
		if c.onMalformed != nil {
			c.onMalformed()
		}
		return
	}
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Debugw("Event channel full, dropping event", "type", ev.Type)
	}
}

func (c *Client) publishState(state ConnectionState) {
	select {
	case c.stateCh <- state:
	default:
	}
}
