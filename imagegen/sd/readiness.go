package sd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Readiness defaults.
const (
	DefaultProbePath     = "/internal/ping"
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeMaxWait  = 120 * time.Second

	// probeTimeout bounds a single readiness request.
	probeTimeout = 5 * time.Second
)

// Ping issues one GET against the probe path. Any HTTP response, whatever its
// status, means the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.probePath, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return nil
}

// WaitReady polls Ping every interval until the server answers, maxWait
// elapses or ctx is canceled. It returns true when the server answered.
// Callers proceed either way; a false result is only worth a warning.
// A zero maxWait probes once.
func (c *Client) WaitReady(ctx context.Context, interval, maxWait time.Duration) bool {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	probes := 0
	probe := func() error {
		probes++
		return c.Ping(ctx)
	}

	var err error
	if maxWait <= 0 {
		err = probe()
	} else {
		err = backoff.RetryNotify(probe, backoff.WithContext(constantBackOff(interval, maxWait), ctx),
			func(err error, next time.Duration) {
				c.logger.Debug("waiting for WebUI",
					zap.Int("probe", probes),
					zap.Duration("next", next),
					zap.Error(err))
			})
	}

	if err != nil {
		c.logger.Warn("WebUI did not answer, starting anyway",
			zap.String("server", c.baseURL),
			zap.Int("probes", probes),
			zap.Error(err))
		return false
	}
	c.logger.Info("WebUI is reachable",
		zap.String("server", c.baseURL),
		zap.Int("probes", probes))
	return true
}

// constantBackOff waits interval between probes and stops after maxWait.
func constantBackOff(interval, maxWait time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = interval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = maxWait
	return b
}
