// Package services holds the error vocabulary and context annotations shared
// by the external service clients (sports data provider, channel manager) and
// the run pipeline that consumes them.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProvider marks failures talking to the sports data provider.
	ErrProvider = errors.New("provider error")
	// ErrExternalWrite marks rejected writes against the channel manager.
	ErrExternalWrite = errors.New("external write error")
	// ErrValidation marks responses or inputs that failed validation.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration discovered at runtime.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups with no result.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks deadline or cancellation failures.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures expected to clear on a later run.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
