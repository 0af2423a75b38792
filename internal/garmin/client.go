// Package garmin is a minimal Garmin Connect client for the wellness
// endpoints behind the energy report: body battery, sleep and stress.
package garmin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrAuthentication is returned when no usable token exists or Garmin
// Connect rejects the token.
var ErrAuthentication = errors.New("garmin authentication failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const userAgent = "GCM-iOS-5.7.2.1"

// Client calls the Garmin Connect API with a stored OAuth2 bearer token.
type Client struct {
	httpClient  *resty.Client
	logger      *zap.Logger
	displayName string
}

// NewClient creates a client for baseURL (normally https://connectapi.garmin.com).
func NewClient(baseURL string, timeout time.Duration, token *OAuth2Token, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token.AccessToken).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Authenticate verifies the token by loading the user's social profile and
// remembers the display name needed by the sleep endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.get(ctx, "/userprofile-service/socialProfile", nil, &profile); err != nil {
		return err
	}
	if profile.DisplayName == "" {
		return fmt.Errorf("%w: profile has no display name", ErrAuthentication)
	}
	c.displayName = profile.DisplayName
	c.logger.Info("Authenticated with Garmin Connect", zap.String("display_name", c.displayName))
	return nil
}

// BodyBattery returns one entry per day between start and end (inclusive,
// YYYY-MM-DD), each with at least date, charged and drained.
func (c *Client) BodyBattery(ctx context.Context, start, end string) ([]map[string]any, error) {
	var entries []map[string]any
	err := c.get(ctx, "/wellness-service/wellness/bodyBattery/reports/daily",
		map[string]string{"startDate": start, "endDate": end}, &entries)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched body battery",
		zap.String("start", start),
		zap.String("end", end),
		zap.Int("days", len(entries)),
	)
	return entries, nil
}

// Sleep returns the daily sleep response (containing dailySleepDTO) for date.
func (c *Client) Sleep(ctx context.Context, date string) (map[string]any, error) {
	if c.displayName == "" {
		return nil, fmt.Errorf("%w: call Authenticate before fetching sleep data", ErrAuthentication)
	}
	var out map[string]any
	err := c.get(ctx, "/wellness-service/wellness/dailySleepData/"+c.displayName,
		map[string]string{"date": date, "nonSleepBufferMinutes": "60"}, &out)
	return out, err
}

// Stress returns the daily stress summary for date.
func (c *Client) Stress(ctx context.Context, date string) (map[string]any, error) {
	var out map[string]any
	err := c.get(ctx, "/wellness-service/wellness/dailyStress/"+date, nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		c.logger.Error("Garmin Connect request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("garmin GET %s: %w", path, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: GET %s returned %d", ErrAuthentication, path, code)
	case code == http.StatusNoContent:
		return fmt.Errorf("garmin GET %s: no content", path)
	case resp.IsError():
		return fmt.Errorf("garmin GET %s returned %d: %s", path, code, truncate(resp.String(), 200))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
