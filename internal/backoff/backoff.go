// Package backoff implements the capped exponential back-off used when
// retrying TransientBackendError conditions (registry unreachable, DB
// connection refused, WS peer reset).
package backoff

import "time"

// Policy describes a capped exponential back-off schedule.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Default is the schedule named in the error handling design: 1s initial,
// 30s cap, 6x factor.
var Default = Policy{
	Initial: time.Second,
	Max:     30 * time.Second,
	Factor:  6,
}

// Next returns the delay for the given attempt number (0-indexed: attempt 0
// is the first retry) under this policy, capped at Max.
func (p Policy) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	if time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}
