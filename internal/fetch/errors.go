package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coinlens/internal/domain"
)

// Reason classifies why one provider attempt failed.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonTransport   Reason = "transport_error"
	ReasonRateLimited Reason = "rate_limited"
	ReasonMalformed   Reason = "malformed_response"
)

// Sentinel errors providers wrap to signal a specific failure class.
// Anything else (including context deadlines) is classified from the
// error chain in classifyReason.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrMalformed   = errors.New("malformed provider response")
)

// ErrUnsupportedCategory is returned when no configured provider serves
// the requested category. It is never retried.
var ErrUnsupportedCategory = errors.New("unsupported category")

// ExhaustedError is returned when every candidate provider failed.
type ExhaustedError struct {
	Category domain.Category
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return fmt.Sprintf("all providers exhausted for %s [%s]", e.Category, strings.Join(parts, ", "))
}

// BudgetExceededError is returned when the caller's overall deadline
// elapses while the orchestrator is still walking candidates.
type BudgetExceededError struct {
	Category domain.Category
	Attempts []Attempt
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("request budget exceeded for %s after %d attempts", e.Category, len(e.Attempts))
}

// classifyReason maps a provider error onto the attempt taxonomy.
func classifyReason(err error) Reason {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonTransport
	}
}
