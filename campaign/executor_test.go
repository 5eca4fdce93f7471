package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"sdcampaign/imagegen/sd"
)

// scriptedClient answers Txt2Img from a list of step functions, one per call.
// Calls beyond the script repeat the last step.
type scriptedClient struct {
	steps    []func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error)
	requests []sd.GenerationRequest
}

func (c *scriptedClient) Txt2Img(ctx context.Context, req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
	c.requests = append(c.requests, req)
	step := c.steps[min(len(c.requests), len(c.steps))-1]
	return step(req)
}

func succeed(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
	return &sd.Txt2ImgResponse{Images: []string{jpegPayload}}, nil
}

func failTransport(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
	return nil, sd.NewGenerationError(sd.ErrCodeTransport, "connection refused", true, nil)
}

func returnEmpty(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
	return &sd.Txt2ImgResponse{}, nil
}

func newTestExecutor(client Txt2Imager, cfg ExecutorConfig) (*Executor, *[]time.Duration) {
	logger, _ := newObservedLogger()
	e := NewExecutor(client, cfg, logger)
	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return e, &sleeps
}

func adetailerRequest() sd.GenerationRequest {
	return sd.GenerationRequest{Prompt: "portrait", Seed: -1}.WithScripts(DefaultParameters().ADetailer.Scripts())
}

func TestExecutor_FailTwiceThenSucceed(t *testing.T) {
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){
		failTransport, failTransport, succeed,
	}}
	e, sleeps := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3, BackoffUnit: 2 * time.Second})

	result := e.Execute(context.Background(), sd.GenerationRequest{Prompt: "x"})

	if !result.OK() || result.Attempts != 3 {
		t.Fatalf("result = %+v, want success after 3 attempts", result)
	}
	if len(client.requests) != 3 {
		t.Errorf("calls = %d, want 3", len(client.requests))
	}
	if want := []time.Duration{2 * time.Second, 4 * time.Second}; !slices.Equal(*sleeps, want) {
		t.Errorf("backoff = %v, want %v", *sleeps, want)
	}
}

func TestExecutor_ExhaustedAttempts(t *testing.T) {
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){failTransport}}
	e, sleeps := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3, BackoffUnit: time.Second})

	result := e.Execute(context.Background(), sd.GenerationRequest{Prompt: "x"})

	if result.OK() || result.Attempts != 3 || result.Failure != FailureTransport {
		t.Fatalf("result = %+v, want transport failure after 3 attempts", result)
	}
	if !errors.Is(result.Err, ErrAttemptsExhausted) {
		t.Errorf("Err = %v, want ErrAttemptsExhausted", result.Err)
	}
	if len(*sleeps) != 2 {
		t.Errorf("sleeps = %v, want none after the last attempt", *sleeps)
	}
}

func TestExecutor_EmptyPayloadIsRetried(t *testing.T) {
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){returnEmpty, succeed}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3})

	if result := e.Execute(context.Background(), sd.GenerationRequest{}); !result.OK() || result.Attempts != 2 {
		t.Fatalf("result = %+v, want success on attempt 2", result)
	}

	always := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){returnEmpty}}
	e, _ = newTestExecutor(always, ExecutorConfig{MaxAttempts: 2})
	result := e.Execute(context.Background(), sd.GenerationRequest{})
	if result.Failure != FailureEmptyPayload || !errors.Is(result.Err, ErrEmptyPayload) {
		t.Errorf("result = %+v, want empty payload failure", result)
	}
}

func TestExecutor_DowngradesScripts(t *testing.T) {
	rejectScripts := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
		if req.HasScripts() {
			return nil, sd.GenerationError{Code: sd.ErrCodeHTTPStatus, Message: "script not found", Retryable: true, StatusCode: 422}
		}
		return succeed(req)
	}
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){rejectScripts}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3})

	req := adetailerRequest()
	result := e.Execute(context.Background(), req)

	if !result.OK() || result.Attempts != 2 || !result.Downgraded {
		t.Fatalf("result = %+v, want downgraded success on attempt 2", result)
	}
	if !client.requests[0].HasScripts() || client.requests[1].HasScripts() {
		t.Error("first attempt should carry scripts and the second should not")
	}
	if client.requests[1].Prompt != "portrait" {
		t.Errorf("downgraded prompt = %q", client.requests[1].Prompt)
	}
	if !req.HasScripts() {
		t.Error("Execute mutated the caller's request")
	}
}

func TestExecutor_DowngradeGetsSecondAttempt(t *testing.T) {
	rejectScripts := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
		if req.HasScripts() {
			return failTransport(req)
		}
		return succeed(req)
	}
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){rejectScripts}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 1})

	if result := e.Execute(context.Background(), adetailerRequest()); !result.OK() || result.Attempts != 2 {
		t.Fatalf("result = %+v, want success on the downgraded attempt", result)
	}

	plain := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){failTransport}}
	e, _ = newTestExecutor(plain, ExecutorConfig{MaxAttempts: 1})
	if result := e.Execute(context.Background(), sd.GenerationRequest{}); result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 for a request without scripts", result.Attempts)
	}
}

func TestExecutor_NonRetryableStops(t *testing.T) {
	invalid := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
		return nil, sd.NewGenerationError(sd.ErrCodeInvalidRequest, "bad request", false, nil)
	}
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){invalid}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3})

	result := e.Execute(context.Background(), sd.GenerationRequest{})
	if result.Attempts != 1 || result.OK() {
		t.Errorf("result = %+v, want a single failed attempt", result)
	}
}

func TestExecutor_NonRetryableWithScriptsDowngrades(t *testing.T) {
	unencodable := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
		if req.HasScripts() {
			return nil, sd.NewGenerationError(sd.ErrCodeInvalidRequest, "failed to encode request", false, nil)
		}
		return succeed(req)
	}
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){unencodable}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3})

	result := e.Execute(context.Background(), adetailerRequest())
	if !result.OK() || result.Attempts != 2 || !result.Downgraded {
		t.Fatalf("result = %+v, want downgraded success on attempt 2", result)
	}

	// Once the scripts are gone a non-retryable error ends the loop.
	invalid := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) {
		return nil, sd.NewGenerationError(sd.ErrCodeInvalidRequest, "bad request", false, nil)
	}
	always := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){invalid}}
	e, _ = newTestExecutor(always, ExecutorConfig{MaxAttempts: 5})
	result = e.Execute(context.Background(), adetailerRequest())
	if result.OK() || result.Attempts != 2 || !result.Downgraded {
		t.Errorf("result = %+v, want failure after the downgraded attempt", result)
	}
}

func TestExecutor_NilResponseIsEmptyPayload(t *testing.T) {
	nothing := func(req sd.GenerationRequest) (*sd.Txt2ImgResponse, error) { return nil, nil }
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){nothing, succeed}}
	e, _ := newTestExecutor(client, ExecutorConfig{MaxAttempts: 3})

	if result := e.Execute(context.Background(), sd.GenerationRequest{}); !result.OK() || result.Attempts != 2 {
		t.Fatalf("result = %+v, want success on attempt 2", result)
	}

	always := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){nothing}}
	e, _ = newTestExecutor(always, ExecutorConfig{MaxAttempts: 2})
	result := e.Execute(context.Background(), sd.GenerationRequest{})
	if result.Failure != FailureEmptyPayload || !errors.Is(result.Err, ErrEmptyPayload) {
		t.Errorf("result = %+v, want empty payload failure", result)
	}
}

func TestExecutor_Canceled(t *testing.T) {
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){succeed}}
	e, _ := newTestExecutor(client, ExecutorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.Execute(ctx, sd.GenerationRequest{})
	if result.Failure != FailureCanceled || len(client.requests) != 0 {
		t.Errorf("result = %+v after %d calls, want canceled before any call", result, len(client.requests))
	}
}

func TestExecutor_CanceledDuringBackoff(t *testing.T) {
	client := &scriptedClient{steps: []func(sd.GenerationRequest) (*sd.Txt2ImgResponse, error){failTransport}}
	logger, _ := newObservedLogger()
	e := NewExecutor(client, ExecutorConfig{MaxAttempts: 3, BackoffUnit: time.Hour}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	result := e.Execute(ctx, sd.GenerationRequest{})
	if result.Failure != FailureCanceled || result.Attempts != 1 {
		t.Errorf("result = %+v, want canceled after 1 attempt", result)
	}
}

func TestExecutor_WithWebUIServer(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		if _, ok := body["alwayson_scripts"]; ok {
			http.Error(w, `{"detail":"Script 'ADetailer' not found"}`, http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"images":["` + jpegPayload + `"],"parameters":{},"info":""}`))
	}))
	defer server.Close()

	logger, logs := newObservedLogger()
	client := sd.NewClient(sd.ClientConfig{BaseURL: server.URL}, logger)
	e := NewExecutor(client, ExecutorConfig{MaxAttempts: 3, BackoffUnit: time.Millisecond}, logger)

	result := e.Execute(context.Background(), adetailerRequest())

	if !result.OK() || !result.Downgraded || result.Attempts != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(bodies) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(bodies))
	}
	if _, ok := bodies[1]["alwayson_scripts"]; ok {
		t.Error("second request still carried alwayson_scripts")
	}
	if logs.FilterMessage("retrying without extension scripts").Len() != 1 {
		t.Error("expected one downgrade warning")
	}
}
