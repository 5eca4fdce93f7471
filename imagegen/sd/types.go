// Package sd talks to a Stable Diffusion WebUI (AUTOMATIC1111) started with --api.
//
// The request and response types mirror the JSON bodies of /sdapi/v1/txt2img.
// GenerationRequest is a value type: every With* method returns a modified
// copy and never touches the receiver's maps.
package sd

import (
	"fmt"
	"maps"
)

// Txt2ImgPath is the WebUI endpoint for text-to-image generation.
const Txt2ImgPath = "/sdapi/v1/txt2img"

// ADetailerScript is the alwayson_scripts key of the ADetailer extension.
const ADetailerScript = "ADetailer"

// ADetailer detector models used for the face and hand passes.
const (
	ADetailerFaceModel = "face_yolov8n.pt"
	ADetailerHandModel = "hand_yolov8n.pt"
)

// GenerationRequest is the body of POST /sdapi/v1/txt2img.
type GenerationRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	SamplerName       string  `json:"sampler_name,omitempty"`
	Steps             int     `json:"steps"`
	CFGScale          float64 `json:"cfg_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Seed              int64   `json:"seed"`
	RestoreFaces      bool    `json:"restore_faces"`
	SaveImages        bool    `json:"save_images"`
	EnableHR          bool    `json:"enable_hr"`
	HRScale           float64 `json:"hr_scale,omitempty"`
	HRUpscaler        string  `json:"hr_upscaler,omitempty"`
	HRSecondPassSteps int     `json:"hr_second_pass_steps"`
	DenoisingStrength float64 `json:"denoising_strength,omitempty"`
	BatchSize         int     `json:"batch_size,omitempty"`

	// OverrideSettings are WebUI options applied for this request only,
	// e.g. CLIP_stop_at_last_layers or the outdir_* paths.
	OverrideSettings map[string]any `json:"override_settings,omitempty"`

	// AlwaysonScripts holds extension directives keyed by script name.
	AlwaysonScripts map[string]AlwaysonScript `json:"alwayson_scripts,omitempty"`
}

// AlwaysonScript is the argument block of one always-on extension.
type AlwaysonScript struct {
	Args []any `json:"args"`
}

// ADetailerArgs configures one ADetailer detection pass.
type ADetailerArgs struct {
	Model             string  `json:"ad_model"`
	Prompt            string  `json:"ad_prompt"`
	DenoisingStrength float64 `json:"ad_denoising_strength"`
	Confidence        float64 `json:"ad_confidence"`
}

// ADetailerScripts builds the alwayson_scripts block for the given passes.
func ADetailerScripts(passes ...ADetailerArgs) map[string]AlwaysonScript {
	args := make([]any, len(passes))
	for i, p := range passes {
		args[i] = p
	}
	return map[string]AlwaysonScript{ADetailerScript: {Args: args}}
}

// Clone returns a copy whose maps can be modified without affecting r.
func (r GenerationRequest) Clone() GenerationRequest {
	if r.OverrideSettings != nil {
		r.OverrideSettings = maps.Clone(r.OverrideSettings)
	}
	if r.AlwaysonScripts != nil {
		r.AlwaysonScripts = maps.Clone(r.AlwaysonScripts)
	}
	return r
}

// WithPrompt returns a copy with the specified prompt.
func (r GenerationRequest) WithPrompt(prompt string) GenerationRequest {
	r = r.Clone()
	r.Prompt = prompt
	return r
}

// WithSeed returns a copy with the specified seed (-1 lets the server pick).
func (r GenerationRequest) WithSeed(seed int64) GenerationRequest {
	r = r.Clone()
	r.Seed = seed
	return r
}

// WithScripts returns a copy carrying the given alwayson_scripts block.
func (r GenerationRequest) WithScripts(scripts map[string]AlwaysonScript) GenerationRequest {
	r = r.Clone()
	r.AlwaysonScripts = maps.Clone(scripts)
	return r
}

// WithoutScripts returns a copy with the alwayson_scripts block removed.
func (r GenerationRequest) WithoutScripts() GenerationRequest {
	r = r.Clone()
	r.AlwaysonScripts = nil
	return r
}

// HasScripts reports whether the request carries any extension directive.
func (r GenerationRequest) HasScripts() bool {
	return len(r.AlwaysonScripts) > 0
}

// Txt2ImgResponse is the body returned by /sdapi/v1/txt2img.
// Images holds base64-encoded files, possibly with a data URI prefix.
type Txt2ImgResponse struct {
	Images     []string       `json:"images"`
	Parameters map[string]any `json:"parameters"`
	Info       string         `json:"info"`
}

// GenerationError represents a failed call to the WebUI.
type GenerationError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Retryable indicates if the operation might succeed on retry.
	Retryable bool `json:"retryable"`

	// StatusCode is the HTTP status for ErrCodeHTTPStatus, zero otherwise.
	StatusCode int `json:"status_code,omitempty"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e GenerationError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeTransport      = "transport"
	ErrCodeTimeout        = "timeout"
	ErrCodeHTTPStatus     = "http_status"
	ErrCodeDecode         = "decode_failed"
	ErrCodeCanceled       = "canceled"
)

// NewGenerationError creates a new GenerationError.
func NewGenerationError(code, message string, retryable bool, cause error) GenerationError {
	return GenerationError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}
