// Package heights looks up terrain elevation for sketch vertices that were
// drawn without a usable Z value.
package heights

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Service returns the elevation at a map coordinate. ok is false when the
// service has no data there.
type Service interface {
	ElevationAt(ctx context.Context, x, y float64) (h float64, ok bool, err error)
}

// None is a Service without data.
type None struct{}

func (None) ElevationAt(context.Context, float64, float64) (float64, bool, error) {
	return 0, false, nil
}

// Client queries an HTTP elevation service.
type Client struct {
	baseURL    string
	srs        int
	httpClient *http.Client
}

// New creates a new elevation client. srs is sent with every request so the
// service knows the frame of x and y.
func New(baseURL string, srs int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		srs:        srs,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Healthcheck checks if the elevation service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type elevationResponse struct {
	Height *float64 `json:"height"`
}

// ElevationAt asks the service for the height at (x, y).
func (c *Client) ElevationAt(ctx context.Context, x, y float64) (float64, bool, error) {
	q := url.Values{}
	q.Set("x", strconv.FormatFloat(x, 'f', -1, 64))
	q.Set("y", strconv.FormatFloat(y, 'f', -1, 64))
	if c.srs != 0 {
		q.Set("srs", strconv.Itoa(c.srs))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/elevation?"+q.Encode(), nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("elevation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("elevation returned status %d", resp.StatusCode)
	}

	var body elevationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, fmt.Errorf("failed to decode elevation response: %w", err)
	}
	if body.Height == nil {
		return 0, false, nil
	}
	return *body.Height, true, nil
}
