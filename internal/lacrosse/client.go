package lacrosse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// DefaultBaseURL is the public La Crosse device feed.
const DefaultBaseURL = "https://decent-destiny-704.appspot.com/laxservices/device_info.php"

// RequestTimeout bounds one fetch, body included.
const RequestTimeout = 10 * time.Second

const maxBodyBytes = 1 << 20

// StatusError reports a non-2xx response from the feed.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Client polls one device. It keeps the latest snapshot and never schedules
// fetches on its own; callers decide when to call Update.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger

	current atomic.Pointer[Snapshot]
}

func NewClient(baseURL, deviceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    baseURL,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: RequestTimeout},
		logger:     logger,
	}
	c.current.Store(c.emptySnapshot())
	return c
}

// Update fetches the device once and installs the result. It never fails:
// any problem is logged and leaves an invalid, empty snapshot behind.
func (c *Client) Update(ctx context.Context) Snapshot {
	c.current.Store(c.emptySnapshot())

	body, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("telemetry request failed", "device_id", c.deviceID, "error", err)
		return *c.current.Load()
	}

	snap, err := ParseSnapshot(c.deviceID, c.baseURL, body, c.logger)
	if err != nil {
		if errors.Is(err, ErrMissingDevice) || errors.Is(err, ErrInvalidObservations) {
			c.logger.Warn("telemetry payload rejected", "device_id", c.deviceID, "error", err)
		} else {
			c.logger.Error("telemetry response unreadable", "device_id", c.deviceID, "error", err)
		}
		return *c.current.Load()
	}

	c.current.Store(&snap)
	return snap
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", c.baseURL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Client) requestURL() string {
	return fmt.Sprintf("%s?deviceid=%s&metric=1", c.baseURL, url.QueryEscape(c.deviceID))
}

func (c *Client) emptySnapshot() *Snapshot {
	return &Snapshot{deviceID: c.deviceID, apiURL: c.baseURL, logger: c.logger}
}

// Snapshot returns the current view. The returned value never changes, so
// several reads from it are always consistent with each other.
func (c *Client) Snapshot() Snapshot {
	return *c.current.Load()
}

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) APIURL() string { return c.baseURL }

func (c *Client) IsValid() bool { return c.Snapshot().IsValid() }

func (c *Client) AmbientTemperature() *float64 { return c.Snapshot().AmbientTemperature() }

func (c *Client) ProbeTemperature() *float64 { return c.Snapshot().ProbeTemperature() }

func (c *Client) Humidity() *float64 { return c.Snapshot().Humidity() }

func (c *Client) LowBattery() bool { return c.Snapshot().LowBattery() }

func (c *Client) LinkQuality() *int { return c.Snapshot().LinkQuality() }

func (c *Client) DeviceType() *string { return c.Snapshot().DeviceType() }

func (c *Client) WaterPresent() *bool { return c.Snapshot().WaterPresent() }

func (c *Client) MeasuredTime() *time.Time { return c.Snapshot().MeasuredTime() }

func (c *Client) AllAttributes() map[string]any { return c.Snapshot().AllAttributes() }
