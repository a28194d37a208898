package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"advisory-service/internal/config"
	"advisory-service/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrFarmerNotFound = errors.New("farmer not found")

// FarmerClient is the read-only farmer directory backed by the profile service.
type FarmerClient struct {
	httpClient *resty.Client
	log        *zap.Logger
}

func NewFarmerClient(cfg config.UpstreamConfig, log *zap.Logger) *FarmerClient {
	return &FarmerClient{httpClient: newRestyClient(cfg), log: log}
}

const farmerBasePath = "/profile/internal/api/v1/farmers"

func (c *FarmerClient) ListFarmersByDistrict(ctx context.Context, district string) ([]models.Farmer, error) {
	var body apiResponse[[]models.Farmer]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("district", district).
		SetResult(&body).
		SetError(&body).
		Get(farmerBasePath)

	if err := checkResponse(resp, err, &body, "profile service farmers"); err != nil {
		c.log.Error("failed to list farmers", zap.String("district", district), zap.Error(err))
		return nil, err
	}
	return body.Data, nil
}

func (c *FarmerClient) GetFarmer(ctx context.Context, farmerID string) (*models.Farmer, error) {
	var body apiResponse[*models.Farmer]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get(farmerBasePath + "/" + pathEscape(farmerID))

	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("farmer %s: %w", farmerID, ErrFarmerNotFound)
	}
	if err := checkResponse(resp, err, &body, "profile service farmer"); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, fmt.Errorf("farmer %s: %w", farmerID, ErrFarmerNotFound)
	}
	return body.Data, nil
}
