package queue

import "time"

const (
	BaseBackoff = time.Second
	MaxBackoff  = 4 * time.Hour
)

// Backoff returns min(BaseBackoff * 10^retries, MaxBackoff).
func Backoff(retries int) time.Duration {
	d := BaseBackoff
	for i := 0; i < retries; i++ {
		d *= 10
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// Eligible reports whether a payload may be attempted at now. Payloads that never failed are
// always eligible; the others once the backoff window since their last failure has elapsed.
func Eligible(p Payload, now time.Time) bool {
	if p.Retries <= 0 {
		return true
	}
	return !now.Before(p.Timestamp.Add(Backoff(p.Retries)))
}
