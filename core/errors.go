package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidServerURL = "INVALID_SERVER_URL"
	ErrCodeOutOfRange       = "OUT_OF_RANGE"
	ErrCodeMissingDir       = "MISSING_DIR"
)

// ErrInvalidServerURL returns an error for an unusable WebUI address.
func ErrInvalidServerURL(url string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidServerURL,
		Message: fmt.Sprintf("Invalid SD_SERVER URL '%s': %s", url, reason),
		Action:  "Set SD_SERVER to the WebUI address started with --api (e.g., http://127.0.0.1:7860)",
	}
}

// ErrOutOfRange returns an error for a numeric setting outside its accepted range.
func ErrOutOfRange(varName string, value interface{}, min, max interface{}) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeOutOfRange,
		Message: fmt.Sprintf("%s=%v is out of range", varName, value),
		Action:  fmt.Sprintf("Set %s between %v and %v", varName, min, max),
	}
}

// ErrMissingDir returns an error when a configured directory cannot be determined.
func ErrMissingDir(varName string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingDir,
		Message: fmt.Sprintf("Cannot determine %s: %s", varName, reason),
		Action:  fmt.Sprintf("Set %s explicitly in your .env file or via the command line", varName),
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
