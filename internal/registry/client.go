package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Station is the registration payload announced to the fleet registry.
type Station struct {
	StationID string `json:"station_id"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
}

type registerResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// Client announces this station to the central fleet registry so operators
// can see which kiosks are alive. Registration is best effort: the station
// works fully without it.
type Client struct {
	httpClient *resty.Client
	station    Station
	logger     *zap.Logger
}

// NewClient creates a registry client.
func NewClient(baseURL, stationID, version string, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	hostname, _ := os.Hostname()

	return &Client{
		httpClient: httpClient,
		station: Station{
			StationID: stationID,
			Hostname:  hostname,
			Version:   version,
		},
		logger: logger,
	}
}

// Register announces the station. Retries are handled by the HTTP client.
func (c *Client) Register(ctx context.Context) error {
	c.logger.Info("Registering station",
		zap.String("station_id", c.station.StationID),
		zap.String("hostname", c.station.Hostname),
	)

	var response registerResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(c.station).
		SetResult(&response).
		Post("/stations/register")
	if err != nil {
		return fmt.Errorf("failed to call registry: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("registry rejected registration: %s (%s)", resp.Status(), response.Msg)
	}

	c.logger.Info("Station registered", zap.String("station_id", c.station.StationID))
	return nil
}
