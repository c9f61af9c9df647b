package broker

import (
	"errors"
	"fmt"
	"time"
)

// PenaltyError is a timed penalty issued by the venue: the request was
// refused and must not be retried before Wait elapses.
type PenaltyError struct {
	Ticket string
	Wait   time.Duration
}

func (e *PenaltyError) Error() string {
	return fmt.Sprintf("venue penalty: ticket=%s wait=%s", e.Ticket, e.Wait)
}

// CaptchaError is a CAPTCHA-class suspension. It affects every account
// on the connection and clearing it requires human action out of band.
type CaptchaError struct {
	Ticket string
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("venue captcha suspension: ticket=%s", e.Ticket)
}

// RateLimitError is a transport-level 429 without penalty markers.
type RateLimitError struct {
	Status int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests (status %d)", e.Status)
}

// IsPenalty reports whether err is a timed penalty and returns it.
func IsPenalty(err error) (*PenaltyError, bool) {
	var pe *PenaltyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCaptcha reports whether err is a CAPTCHA-class suspension.
func IsCaptcha(err error) bool {
	var ce *CaptchaError
	return errors.As(err, &ce)
}

// IsRateLimit reports whether err is a 429-class transport error.
func IsRateLimit(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}
