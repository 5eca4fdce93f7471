package sd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sdcampaign/logging"
)

// DefaultTimeout bounds a single txt2img call. Hires fix at 1.6x on a
// consumer GPU routinely takes over a minute.
const DefaultTimeout = 300 * time.Second

// maxErrorBody is how much of a non-2xx body is kept in the error message.
const maxErrorBody = 512

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the WebUI address, e.g. http://127.0.0.1:7860.
	BaseURL string

	// Timeout is the per-request HTTP timeout. Default: DefaultTimeout.
	Timeout time.Duration

	// ProbePath is the readiness path. Default: DefaultProbePath.
	ProbePath string

	// HTTPClient overrides the client built from Timeout (tests).
	HTTPClient *http.Client
}

// Client is an HTTP client for the WebUI API.
type Client struct {
	baseURL    string
	probePath  string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a Client. A nil logger discards output.
func NewClient(cfg ClientConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = DefaultProbePath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		probePath:  cfg.ProbePath,
		httpClient: httpClient,
		logger:     logger.Named("sd"),
	}
}

// BaseURL returns the WebUI address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Txt2Img sends one generation request and decodes the response.
//
// Every failure is a GenerationError. Transport errors, timeouts, non-2xx
// statuses and undecodable bodies are Retryable; a canceled context and an
// unencodable request are not.
func (c *Client) Txt2Img(ctx context.Context, req GenerationRequest) (*Txt2ImgResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewGenerationError(ErrCodeInvalidRequest, "failed to encode request", false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Txt2ImgPath, bytes.NewReader(body))
	if err != nil {
		return nil, NewGenerationError(ErrCodeInvalidRequest, "failed to build request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		genErr := NewGenerationError(ErrCodeHTTPStatus,
			fmt.Sprintf("txt2img returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			true, nil)
		genErr.StatusCode = resp.StatusCode
		return nil, genErr
	}

	var result Txt2ImgResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return nil, NewGenerationError(ErrCodeCanceled, "request canceled", false, ctx.Err())
		}
		return nil, NewGenerationError(ErrCodeDecode, "failed to decode txt2img response", true, err)
	}

	c.logger.Debug("txt2img response",
		zap.Int("images", len(result.Images)),
		zap.Duration("duration", time.Since(start)))

	return &result, nil
}

// classifyTransportError maps an http.Client error to a GenerationError.
func classifyTransportError(ctx context.Context, err error) GenerationError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewGenerationError(ErrCodeCanceled, "request canceled", false, ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewGenerationError(ErrCodeTimeout, "txt2img timed out", true, err)
	}
	return NewGenerationError(ErrCodeTransport, "txt2img request failed", true, err)
}
