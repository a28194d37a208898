package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"advisory-service/internal/config"
	"advisory-service/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WeatherClient reads district weather from the weather service.
// A 404 or an empty payload is "no data" and never an error.
type WeatherClient struct {
	httpClient *resty.Client
	log        *zap.Logger
}

func NewWeatherClient(cfg config.UpstreamConfig, log *zap.Logger) *WeatherClient {
	return &WeatherClient{httpClient: newRestyClient(cfg), log: log}
}

const weatherBasePath = "/weather/internal/api/v2/districts/"

func (c *WeatherClient) GetCurrentWeather(ctx context.Context, district string) (*models.WeatherReading, error) {
	var body apiResponse[*models.WeatherReading]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get(weatherBasePath + pathEscape(district) + "/current")

	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := checkResponse(resp, err, &body, "weather service current"); err != nil {
		c.log.Error("failed to fetch current weather", zap.String("district", district), zap.Error(err))
		return nil, err
	}

	reading := body.Data
	if reading != nil && reading.District == "" {
		reading.District = district
	}
	return reading, nil
}

func (c *WeatherClient) GetForecast(ctx context.Context, district string, hours int) ([]models.WeatherReading, error) {
	return c.getReadings(ctx, district, "/forecast", map[string]string{"hours": strconv.Itoa(hours)}, "weather service forecast")
}

func (c *WeatherClient) GetAlerts(ctx context.Context, district string) ([]models.WeatherReading, error) {
	return c.getReadings(ctx, district, "/alerts", nil, "weather service alerts")
}

func (c *WeatherClient) getReadings(ctx context.Context, district, suffix string, query map[string]string, what string) ([]models.WeatherReading, error) {
	var body apiResponse[[]models.WeatherReading]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&body).
		SetError(&body).
		Get(weatherBasePath + pathEscape(district) + suffix)

	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := checkResponse(resp, err, &body, what); err != nil {
		c.log.Error("failed to fetch weather readings", zap.String("district", district), zap.String("endpoint", strings.TrimPrefix(suffix, "/")), zap.Error(err))
		return nil, err
	}

	for i := range body.Data {
		if body.Data[i].District == "" {
			body.Data[i].District = district
		}
	}
	return body.Data, nil
}

func (c *WeatherClient) IsAvailable(ctx context.Context) bool {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/checkhealth")
	if err != nil {
		c.log.Warn("weather service health check failed", zap.Error(err))
		return false
	}
	return resp.StatusCode() == http.StatusOK
}
