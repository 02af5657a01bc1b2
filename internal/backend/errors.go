package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies backend failures for the caller.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryTransport  Category = "transport"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAuth       Category = "auth"
	CategoryTimeout    Category = "timeout"
	CategoryInternal   Category = "internal"
)

// Error is a categorized backend failure.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a category.
func NewError(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// CategoryOf extracts the category of err, defaulting to internal.
func CategoryOf(err error) Category {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryInternal
}

// Retryable reports whether a failure is worth retrying. Authentication and
// validation failures never are: the retry would fail the same way.
func Retryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryTransport, CategoryTimeout, CategoryRateLimit:
		return true
	}
	return false
}

// Categorize classifies a raw error from a backend call. Already categorized
// errors pass through unchanged.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CategoryTimeout, "backend call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(CategoryTimeout, "backend call timed out", err)
		}
		return NewError(CategoryTransport, "network failure", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "eof"):
		return NewError(CategoryTransport, "connection failure", err)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return NewError(CategoryRateLimit, "backend rate limited", err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "forbidden"):
		return NewError(CategoryAuth, "authentication failed", err)
	}
	return NewError(CategoryInternal, "backend failure", err)
}

// categoryForStatus maps an HTTP status from the inference service to an
// error category.
func categoryForStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimit
	case status == 408 || status == 504:
		return CategoryTimeout
	case status == 400 || status == 422:
		return CategoryValidation
	case status >= 500:
		return CategoryTransport
	}
	return CategoryInternal
}
