package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct
// ErrorCategory for metrics labeling, including wrapped sentinels.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"location not found", ErrLocationNotFound, ErrorCategoryLocationNotFound},
		{"upstream status", &UpstreamError{StatusCode: 502}, ErrorCategoryUpstreamStatus},
		{"circuit open", fmt.Errorf("%w: %w", ErrUnavailable, gobreaker.ErrOpenState), ErrorCategoryCircuitOpen},
		{"malformed body", fmt.Errorf("%w: %w: eof", ErrUnavailable, errMalformedResponse), ErrorCategoryParsing},
		{"transport", fmt.Errorf("%w: dial", ErrUnavailable), ErrorCategoryNetwork},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
