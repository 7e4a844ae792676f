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
	ErrCodeConfigFileMissing = "CONFIG_FILE_MISSING"
	ErrCodeConfigFileInvalid = "CONFIG_FILE_INVALID"
	ErrCodeInvalidServerURL  = "INVALID_SERVER_URL"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeMissingConfig     = "MISSING_CONFIG"
	ErrCodeFeatureDisabled   = "FEATURE_DISABLED"
	ErrCodeServerUnreachable = "SERVER_UNREACHABLE"
)

func ErrConfigFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileMissing,
		Message: fmt.Sprintf("Configuration file not found: %s", path),
		Action:  "Fix SD_CONFIG_FILE or unset it to run on defaults",
	}
}

func ErrConfigFileInvalid(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileInvalid,
		Message: fmt.Sprintf("Configuration file %s is not valid YAML: %v", path, cause),
		Action:  "Check indentation and field names against config.example.yaml",
	}
}

func ErrInvalidServerURL(url, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidServerURL,
		Message: fmt.Sprintf("Invalid backend URL '%s': %s", url, reason),
		Action:  "List WebUI endpoints in SD_SERVERS, e.g. http://127.0.0.1:7860",
	}
}

func ErrInvalidValue(name, value string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value for %s: %q", name, value),
	}
}

func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file or config YAML", varName),
	}
}

// ErrFeatureDisabled is returned when an administrator has switched a
// command off.
func ErrFeatureDisabled(feature string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeFeatureDisabled,
		Message: fmt.Sprintf("%s is disabled by the administrator", feature),
	}
}

func ErrServerUnreachable(index int, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeServerUnreachable,
		Message: fmt.Sprintf("Cannot reach backend %d: %s", index, reason),
		Action:  "Check that the WebUI is running with --api",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if ce, ok := IsConfigError(err); ok {
		return ce.Code
	}
	return ""
}

// Request-level failures. None of these are retried.
var (
	// ErrMissingImage means img2img or tagging was requested without a URL
	// or a quoted image.
	ErrMissingImage = errors.New("no source image: attach or quote an image, or pass an http(s) link")

	// ErrAlignment means the translator returned a different number of
	// lines than it was sent.
	ErrAlignment = errors.New("translation line count does not match source")

	// ErrSaturated means the task ceiling is reached. Callers report it as
	// a busy notice rather than a failure.
	ErrSaturated = errors.New("task ceiling reached")

	// ErrBusy means an exclusive operation found tasks in flight.
	ErrBusy = errors.New("tasks are in progress")

	// ErrInsufficientBalance is returned by the balance gate.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTranslatorUnavailable means translation was requested but no
	// translator is configured.
	ErrTranslatorUnavailable = errors.New("translation service is not configured")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// BackendError wraps a failed call to an inference backend.
type BackendError struct {
	Server     int
	Path       string
	StatusCode int    // 0 when the request never got a response
	Detail     string // "detail" field of a FastAPI error body, if any
	Cause      error
}

func (e *BackendError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("backend %d %s: %v", e.Server, e.Path, e.Cause)
	case e.Detail != "":
		return fmt.Sprintf("backend %d %s: status %d: %s", e.Server, e.Path, e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("backend %d %s: status %d", e.Server, e.Path, e.StatusCode)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}
