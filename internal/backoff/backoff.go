package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	PolicyNone           = "none"
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Policy describes how long to wait before retry number attempts.
type Policy struct {
	Name string
	Base time.Duration
	Max  time.Duration
}

// Valid reports whether name is a known policy.
func Valid(name string) bool {
	switch name {
	case PolicyNone, PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter, "":
		return true
	}
	return false
}

// Delay returns the wait before the given retry. attempts is expected to be >= 0.
// An empty or "none" policy never waits.
func (p Policy) Delay(attempts int, rng *rand.Rand) time.Duration {
	if p.Name == "" || p.Name == PolicyNone {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	limit := p.Max
	if limit <= 0 {
		limit = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch p.Name {
	case PolicyFixed:
		return minDur(base, limit)
	case PolicyLinear:
		n := attempts
		if n < 1 {
			n = 1
		}
		return minDur(base*time.Duration(n), limit)
	case PolicyExponential:
		return exp(base, limit, attempts)
	case PolicyExpEqualJitter:
		d := exp(base, limit, attempts)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default: // exp_full_jitter
		d := exp(base, limit, attempts)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exp(base, limit time.Duration, attempts int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempts))
	if f > float64(limit) {
		return limit
	}
	return time.Duration(f)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
