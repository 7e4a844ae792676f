package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		contains []string
	}{
		{
			name: "error with action",
			err: &ConfigError{
				Code:    "TEST_CODE",
				Message: "Test message",
				Action:  "Take this action",
			},
			contains: []string{"Test message", "Take this action"},
		},
		{
			name: "error without action",
			err: &ConfigError{
				Code:    "TEST_CODE",
				Message: "Test message only",
				Action:  "",
			},
			contains: []string{"Test message only"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(errStr, s) {
					t.Errorf("ConfigError.Error() = %q, expected to contain %q", errStr, s)
				}
			}
		})
	}
}

func TestErrConfigFileMissing(t *testing.T) {
	err := ErrConfigFileMissing("sd.yaml")
	if err.Code != ErrCodeConfigFileMissing {
		t.Errorf("Expected code %s, got %s", ErrCodeConfigFileMissing, err.Code)
	}
	if !strings.Contains(err.Message, "sd.yaml") {
		t.Errorf("Expected message to contain path, got %s", err.Message)
	}
	if !strings.Contains(err.Action, "SD_CONFIG_FILE") {
		t.Errorf("Expected action to mention SD_CONFIG_FILE, got %s", err.Action)
	}
}

func TestErrConfigFileInvalid(t *testing.T) {
	err := ErrConfigFileInvalid("sd.yaml", errors.New("line 3: mapping values are not allowed"))
	if err.Code != ErrCodeConfigFileInvalid {
		t.Errorf("Expected code %s, got %s", ErrCodeConfigFileInvalid, err.Code)
	}
	if !strings.Contains(err.Message, "line 3") {
		t.Errorf("Expected message to contain the cause, got %s", err.Message)
	}
}

func TestErrInvalidServerURL(t *testing.T) {
	err := ErrInvalidServerURL("not-a-url", "missing scheme")
	if err.Code != ErrCodeInvalidServerURL {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidServerURL, err.Code)
	}
	if !strings.Contains(err.Message, "not-a-url") {
		t.Errorf("Expected message to contain URL, got %s", err.Message)
	}
	if !strings.Contains(err.Message, "missing scheme") {
		t.Errorf("Expected message to contain reason, got %s", err.Message)
	}
	if !strings.Contains(err.Action, "SD_SERVERS") {
		t.Errorf("Expected action to mention SD_SERVERS, got %s", err.Action)
	}
}

func TestErrServerUnreachable(t *testing.T) {
	err := ErrServerUnreachable(2, "connection refused")
	if err.Code != ErrCodeServerUnreachable {
		t.Errorf("Expected code %s, got %s", ErrCodeServerUnreachable, err.Code)
	}
	if !strings.Contains(err.Message, "backend 2") {
		t.Errorf("Expected message to contain the index, got %s", err.Message)
	}
	if !strings.Contains(err.Error(), "--api") {
		t.Errorf("Expected error to mention --api, got %s", err.Error())
	}
}

func TestErrFeatureDisabled(t *testing.T) {
	err := ErrFeatureDisabled("sdset")
	if err.Code != ErrCodeFeatureDisabled {
		t.Errorf("Expected code %s, got %s", ErrCodeFeatureDisabled, err.Code)
	}
	if err.Error() != "sdset is disabled by the administrator" {
		t.Errorf("Unexpected error text %q", err.Error())
	}
}

func TestErrMissingConfig(t *testing.T) {
	err := ErrMissingConfig("SD_SERVERS")
	if err.Code != ErrCodeMissingConfig {
		t.Errorf("Expected code %s, got %s", ErrCodeMissingConfig, err.Code)
	}
	if !strings.Contains(err.Message, "SD_SERVERS") {
		t.Errorf("Expected message to contain var name, got %s", err.Message)
	}
	if !strings.Contains(err.Action, "SD_SERVERS") {
		t.Errorf("Expected action to contain var name, got %s", err.Action)
	}
}

func TestIsConfigError(t *testing.T) {
	t.Run("returns ConfigError when it is one", func(t *testing.T) {
		configErr := ErrInvalidValue("SD_MAX_TASKS", "-1")
		result, ok := IsConfigError(configErr)
		if !ok {
			t.Error("Expected IsConfigError to return true for ConfigError")
		}
		if result != configErr {
			t.Error("Expected IsConfigError to return the same ConfigError")
		}
	})

	t.Run("finds wrapped ConfigError", func(t *testing.T) {
		configErr := ErrMissingConfig("SD_SERVERS")
		wrapped := fmt.Errorf("load: %w", configErr)
		result, ok := IsConfigError(wrapped)
		if !ok || result != configErr {
			t.Error("Expected IsConfigError to unwrap the ConfigError")
		}
	})

	t.Run("returns false for regular error", func(t *testing.T) {
		result, ok := IsConfigError(errors.New("regular error"))
		if ok {
			t.Error("Expected IsConfigError to return false for regular error")
		}
		if result != nil {
			t.Error("Expected nil result for non-ConfigError")
		}
	})

	t.Run("returns false for nil", func(t *testing.T) {
		result, ok := IsConfigError(nil)
		if ok || result != nil {
			t.Error("Expected IsConfigError to return false for nil")
		}
	})
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(ErrConfigFileMissing("x.yaml")); code != ErrCodeConfigFileMissing {
		t.Errorf("Expected code %s, got %s", ErrCodeConfigFileMissing, code)
	}
	if code := GetErrorCode(errors.New("regular error")); code != "" {
		t.Errorf("Expected empty code, got %s", code)
	}
	if code := GetErrorCode(nil); code != "" {
		t.Errorf("Expected empty code, got %s", code)
	}
}

func TestBackendError(t *testing.T) {
	tests := []struct {
		name string
		err  *BackendError
		want string
	}{
		{
			name: "transport failure",
			err:  &BackendError{Server: 0, Path: "/sdapi/v1/txt2img", Cause: errors.New("connection refused")},
			want: "backend 0 /sdapi/v1/txt2img: connection refused",
		},
		{
			name: "status with detail",
			err:  &BackendError{Server: 1, Path: "/sdapi/v1/options", StatusCode: 422, Detail: "unknown option"},
			want: "backend 1 /sdapi/v1/options: status 422: unknown option",
		},
		{
			name: "bare status",
			err:  &BackendError{Server: 1, Path: "/sdapi/v1/interrupt", StatusCode: 500},
			want: "backend 1 /sdapi/v1/interrupt: status 500",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	cause := errors.New("timeout")
	var be *BackendError
	if err := fmt.Errorf("generate: %w", &BackendError{Cause: cause}); !errors.As(err, &be) || !errors.Is(err, cause) {
		t.Error("Expected BackendError to be found with errors.As and unwrap to its cause")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "size", Message: "expected WIDTHxHEIGHT"}
	if err.Error() != "invalid size: expected WIDTHxHEIGHT" {
		t.Errorf("Unexpected error text %q", err.Error())
	}
}
