// Package models provides the AI collaborators used by the polyphonic
// pipeline: source separation, polyphonic transcription, and the process
// backend they run on.
package models

import (
	"fmt"
	"strings"
)

// ModelError is the base description of an AI model failure
type ModelError struct {
	ModelName string `json:"model_name"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ModelError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.ModelName, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.ModelName, e.Message)
}

// ModelDownloadError reports a failure to download or cache model weights
type ModelDownloadError struct {
	ModelError
}

// Unwrap exposes the base ModelError
func (e *ModelDownloadError) Unwrap() error { return &e.ModelError }

// NewModelDownloadError creates a download error
func NewModelDownloadError(modelName, message, details string) *ModelDownloadError {
	return &ModelDownloadError{ModelError{ModelName: modelName, Message: message, Details: details}}
}

// ModelLoadError reports that model weights could not be loaded
type ModelLoadError struct {
	ModelError
}

// Unwrap exposes the base ModelError
func (e *ModelLoadError) Unwrap() error { return &e.ModelError }

// NewModelLoadError creates a load error
func NewModelLoadError(modelName, message, details string) *ModelLoadError {
	return &ModelLoadError{ModelError{ModelName: modelName, Message: message, Details: details}}
}

// InferenceError reports a failure while executing a model
type InferenceError struct {
	ModelError
}

// Unwrap exposes the base ModelError
func (e *InferenceError) Unwrap() error { return &e.ModelError }

// NewInferenceError creates an inference error
func NewInferenceError(modelName, message, details string) *InferenceError {
	return &InferenceError{ModelError{ModelName: modelName, Message: message, Details: details}}
}

// UnsupportedDeviceError reports that the requested compute backend is not
// usable on this host
type UnsupportedDeviceError struct {
	ModelError
}

// Unwrap exposes the base ModelError
func (e *UnsupportedDeviceError) Unwrap() error { return &e.ModelError }

// NewUnsupportedDeviceError creates a device error
func NewUnsupportedDeviceError(modelName, message, details string) *UnsupportedDeviceError {
	return &UnsupportedDeviceError{ModelError{ModelName: modelName, Message: message, Details: details}}
}

// IsOutOfMemory reports whether an error's text indicates memory
// exhaustion, matching the substring "out of memory" case-insensitively
func IsOutOfMemory(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "out of memory")
}
