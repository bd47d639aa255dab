package scoring

import (
	"fmt"
	"net/http"
	"time"
)

var (
	_ error = &StatusError{}
)

// StatusError is a provider failure that carries a transport status code
// and, when the provider sends one, its canonical status name.
// RetryAfter is set when the provider told us how long to back off.
type StatusError struct {
	Code       int
	Status     string
	Message    string
	RetryAfter time.Duration
}

const statusResourceExhausted = "RESOURCE_EXHAUSTED"

func (e *StatusError) Error() string {
	code := fmt.Sprintf("%d", e.Code)
	if e.Status != "" {
		code += " " + e.Status
	}
	if e.Message == "" {
		return "scoring provider returned status " + code
	}
	return fmt.Sprintf("scoring provider returned status %s: %s", code, e.Message)
}

func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Status == statusResourceExhausted
}
