package hub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// defaultHTTPClient is the shared HTTP client with connection pooling
	defaultHTTPClient *http.Client
	clientOnce        sync.Once
)

// GetHTTPClient returns the pooled client shared by every Hub operation.
// Timeouts are applied per operation by withTimeout.
func GetHTTPClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		}

		defaultHTTPClient = &http.Client{Transport: transport}
	})

	return defaultHTTPClient
}

// withTimeout shares the transport (and its connection pool) of base but
// bounds each request, body included, by timeout.
func withTimeout(base *http.Client, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport:     base.Transport,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       timeout,
	}
}

// retryableHTTPError checks if an HTTP error is retryable
func retryableHTTPError(err error, statusCode int) bool {
	if err != nil {
		return true
	}

	return statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout
}

// requestFunc builds a fresh request for every attempt so bodies can be
// replayed.
type requestFunc func(ctx context.Context) (*http.Request, error)

// errorFunc turns a non-2xx response into a typed error.
type errorFunc func(resp *http.Response) error

// do sends the request with exponential backoff on transport errors and
// retryable statuses. The caller owns the returned body.
func (c *HubClient) do(ctx context.Context, timeout time.Duration, op string, build requestFunc, onError errorFunc) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.RetryInterval
	policy.MaxInterval = MaxRetryInterval
	policy.MaxElapsedTime = 0

	client := withTimeout(c.httpClient, timeout)

	var resp *http.Response
	attempt := 0
	operation := func() error {
		attempt++
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		// Presigned storage URLs reject a second auth mechanism, so the
		// token only goes to the Hub itself.
		token := ""
		if req.URL.Host == c.endpointHost {
			token = c.config.Token
		}
		for k, v := range BuildHeaders(token, c.config.UserAgent, nil) {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}

		r, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to perform request: %w", err)
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		herr := onError(r)
		_ = r.Body.Close()
		if !retryableHTTPError(nil, r.StatusCode) {
			return backoff.Permanent(herr)
		}
		return herr
	}

	notify := func(err error, delay time.Duration) {
		c.logger.WithField("operation", op).
			WithField("attempt", attempt).
			WithField("max_retries", c.config.MaxRetries).
			WithField("delay", delay.String()).
			WithError(err).
			Warn("Hub request failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.config.MaxRetries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
