package gate

import (
	"fmt"
	"time"
)

// PenaltyTimeoutError terminates a request that hit a CAPTCHA-class
// suspension. The gate refuses all traffic until Until; escalation
// requires human action, so the request is not retried.
type PenaltyTimeoutError struct {
	ID    string
	Until time.Time
	Cause error
}

func (e *PenaltyTimeoutError) Error() string {
	return fmt.Sprintf("request %s suspended until %s: %v", e.ID, e.Until.Format(time.RFC3339), e.Cause)
}

func (e *PenaltyTimeoutError) Unwrap() error { return e.Cause }

// RetriesExhaustedError terminates a request whose penalty/backoff
// retries hit the attempt cap.
type RetriesExhaustedError struct {
	ID       string
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("request %s failed after %d attempts: %v", e.ID, e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }
