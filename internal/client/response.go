package client

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"advisory-service/internal/config"

	"github.com/go-resty/resty/v2"
)

// apiResponse is the success/error envelope every internal service answers with.
type apiResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newRestyClient(cfg config.UpstreamConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return client
}

// checkResponse turns transport errors, non-2xx statuses and unsuccessful envelopes into errors.
func checkResponse[T any](resp *resty.Response, err error, body *apiResponse[T], what string) error {
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", what, err)
	}
	if resp.StatusCode() != http.StatusOK {
		if body.Error != nil {
			return fmt.Errorf("%s returned %d: %s: %s", what, resp.StatusCode(), body.Error.Code, body.Error.Message)
		}
		return fmt.Errorf("%s returned %d", what, resp.StatusCode())
	}
	if !body.Success {
		if body.Error != nil {
			return fmt.Errorf("%s failed: %s: %s", what, body.Error.Code, body.Error.Message)
		}
		return fmt.Errorf("%s failed", what)
	}
	return nil
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
