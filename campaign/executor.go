package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sdcampaign/imagegen/sd"
	"sdcampaign/logging"
)

// Executor defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffUnit = 2 * time.Second
)

var (
	// ErrEmptyPayload is returned for a 2xx response without images.
	ErrEmptyPayload = errors.New("response contained no images")

	// ErrAttemptsExhausted wraps the last cause once every attempt failed.
	ErrAttemptsExhausted = errors.New("all attempts failed")
)

// FailureKind classifies a terminal executor failure.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureTransport    FailureKind = "transport"
	FailureStatus       FailureKind = "status"
	FailureEmptyPayload FailureKind = "empty_payload"
	FailureCanceled     FailureKind = "canceled"
)

// Txt2Imager sends a single generation request.
type Txt2Imager interface {
	Txt2Img(ctx context.Context, req sd.GenerationRequest) (*sd.Txt2ImgResponse, error)
}

// ExecutorConfig configures retry behavior.
type ExecutorConfig struct {
	// MaxAttempts is the number of calls per Execute. Default: DefaultMaxAttempts.
	// Requests carrying extension scripts always get at least 2 so the
	// downgraded request is tried.
	MaxAttempts int

	// BackoffUnit is multiplied by the attempt number between attempts.
	// Zero disables the sleep.
	BackoffUnit time.Duration
}

// DefaultExecutorConfig returns 3 attempts with 2s, 4s backoff.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: DefaultMaxAttempts,
		BackoffUnit: DefaultBackoffUnit,
	}
}

// GenerationResult is the outcome of one Execute call.
type GenerationResult struct {
	Images     []string
	Attempts   int
	Downgraded bool

	Failure FailureKind
	Err     error
}

// OK reports whether the result carries images.
func (r GenerationResult) OK() bool {
	return r.Failure == FailureNone && len(r.Images) > 0
}

// Executor issues generation requests with bounded retry and a one-time
// downgrade that strips extension scripts after the first failure.
type Executor struct {
	client Txt2Imager
	cfg    ExecutorConfig
	logger *logging.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor around client.
func NewExecutor(client Txt2Imager, cfg ExecutorConfig, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffUnit < 0 {
		cfg.BackoffUnit = 0
	}
	return &Executor{
		client: client,
		cfg:    cfg,
		logger: logger.Named("executor"),
		sleep:  sleepContext,
	}
}

// Execute sends req until it yields images or the attempt budget is spent.
// req is never modified; the downgraded request is a copy.
func (e *Executor) Execute(ctx context.Context, req sd.GenerationRequest) GenerationResult {
	maxAttempts := e.cfg.MaxAttempts
	if req.HasScripts() && maxAttempts < 2 {
		maxAttempts = 2
	}

	var (
		result  GenerationResult
		lastErr error
		kind    FailureKind
	)
	current := req

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.canceled(result, err)
		}
		result.Attempts = attempt

		resp, err := e.client.Txt2Img(ctx, current)
		if err == nil && resp != nil && len(resp.Images) > 0 {
			result.Images = resp.Images
			if attempt > 1 {
				e.logger.Info("request succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Bool("downgraded", result.Downgraded))
			}
			return result
		}

		if err == nil {
			err = ErrEmptyPayload
		}
		kind = classifyFailure(err)
		lastErr = err

		if kind == FailureCanceled {
			return e.canceled(result, err)
		}

		e.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("failure", string(kind)),
			zap.Error(err))

		// A request with scripts gets one retry without them, whatever the error.
		var genErr sd.GenerationError
		if current.HasScripts() {
			current = current.WithoutScripts()
			result.Downgraded = true
			e.logger.Warn("retrying without extension scripts")
		} else if errors.As(err, &genErr) && !genErr.Retryable {
			break
		}

		if attempt < maxAttempts && e.cfg.BackoffUnit > 0 {
			if err := e.sleep(ctx, e.cfg.BackoffUnit*time.Duration(attempt)); err != nil {
				return e.canceled(result, err)
			}
		}
	}

	result.Failure = kind
	result.Err = fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
	return result
}

func (e *Executor) canceled(result GenerationResult, err error) GenerationResult {
	result.Failure = FailureCanceled
	result.Err = err
	return result
}

func classifyFailure(err error) FailureKind {
	if errors.Is(err, ErrEmptyPayload) {
		return FailureEmptyPayload
	}
	var genErr sd.GenerationError
	if errors.As(err, &genErr) {
		switch genErr.Code {
		case sd.ErrCodeHTTPStatus, sd.ErrCodeDecode:
			return FailureStatus
		case sd.ErrCodeCanceled:
			return FailureCanceled
		}
		return FailureTransport
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	return FailureTransport
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
