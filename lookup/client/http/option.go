package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultHTTPTimeout = 10 * time.Second

type config struct {
	httpClient *http.Client
	timeout    time.Duration
	header     http.Header

	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		timeout: defaultHTTPTimeout,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// client builds the http.Client for a configured endpoint, wrapping it in a
// retryable client when retries are enabled. Retries never fire for 4xx
// responses, so rate-limit and auth failures surface immediately.
func (cfg *config) client() *http.Client {
	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = cfg.timeout
	}
	if cfg.retryMax == 0 {
		return httpClient
	}
	rclient := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: cfg.retryWaitMin,
		RetryWaitMax: cfg.retryWaitMax,
		RetryMax:     cfg.retryMax,
		CheckRetry:   noClientErrorRetry,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	return rclient.StandardClient()
}

// noClientErrorRetry is the default retry policy minus retries on 429; the
// engine's own rate limiter owns that case.
func noClientErrorRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// WithClient sets the underlying HTTP client.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithTimeout specifies a time limit for requests. A value of zero means the
// default of 10 seconds.
func WithTimeout(to time.Duration) Option {
	return func(cfg *config) error {
		if to < 0 {
			return errors.New("timeout cannot be negative")
		}
		if to != 0 {
			cfg.timeout = to
		}
		return nil
	}
}

// WithRetry configures a retriable HTTP client. Setting retryMax to zero,
// the default, disables the retriable client.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(cfg *config) error {
		if waitMin > waitMax {
			return errors.New("minimum retry wait time cannot be greater than maximum")
		}
		if retryMax < 0 {
			retryMax = 0
		}
		cfg.retryMax = retryMax
		cfg.retryWaitMin = waitMin
		cfg.retryWaitMax = waitMax
		return nil
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(cfg *config) error {
		if cfg.header == nil {
			cfg.header = make(http.Header)
		}
		cfg.header.Add(key, value)
		return nil
	}
}
