package tradovate

import (
	"time"

	"ftbridge/internal/gateway/broker"

	"github.com/tidwall/gjson"
)

// detectPenalty inspects a raw response body for venue penalty markers.
// The markers ride on otherwise well-formed responses of any status, so
// this runs before any schema-specific decoding. Returns nil when the
// body carries no marker.
func detectPenalty(body []byte) error {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	if gjson.GetBytes(body, "p-captcha").Bool() {
		return &broker.CaptchaError{Ticket: gjson.GetBytes(body, "p-ticket").String()}
	}
	ticket := gjson.GetBytes(body, "p-ticket")
	if !ticket.Exists() {
		return nil
	}
	waitSec := gjson.GetBytes(body, "p-time").Int()
	if waitSec <= 0 {
		waitSec = 1
	}
	return &broker.PenaltyError{
		Ticket: ticket.String(),
		Wait:   time.Duration(waitSec) * time.Second,
	}
}
