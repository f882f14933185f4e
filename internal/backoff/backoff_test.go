package backoff

import (
	"math/rand"
	"testing"
	"time"
)

const ms = time.Millisecond

func TestDelayNone(t *testing.T) {
	for _, name := range []string{"", PolicyNone} {
		p := Policy{Name: name, Base: 100 * ms, Max: time.Second}
		for attempts := 0; attempts < 5; attempts++ {
			if got := p.Delay(attempts, nil); got != 0 {
				t.Errorf("Delay(%q, %d) = %v, want 0", name, attempts, got)
			}
		}
	}
}

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"base 5 max 10", 5 * ms, 10 * ms, 0, 5 * ms},
		{"many attempts", 5 * ms, 10 * ms, 100, 5 * ms},
		{"base exceeds max", 20 * ms, 10 * ms, 0, 10 * ms},
		{"zero base defaults to one second", 0, 10 * time.Second, 0, time.Second},
		{"zero max equals base", 5 * ms, 0, 0, 5 * ms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Name: PolicyFixed, Base: tt.base, Max: tt.max}
			if got := p.Delay(tt.attempts, rand.New(rand.NewSource(42))); got != tt.want {
				t.Errorf("Delay(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		max      time.Duration
		want     time.Duration
	}{
		{"zero attempts", 0, 100 * ms, 5 * ms},
		{"one attempt", 1, 100 * ms, 5 * ms},
		{"three attempts", 3, 100 * ms, 15 * ms},
		{"capped at max", 10, 20 * ms, 20 * ms},
		{"negative attempts", -1, 100 * ms, 5 * ms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Name: PolicyLinear, Base: 5 * ms, Max: tt.max}
			if got := p.Delay(tt.attempts, nil); got != tt.want {
				t.Errorf("Delay(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		max      time.Duration
		want     time.Duration
	}{
		{"zero attempts", 0, time.Second, 5 * ms},
		{"two attempts", 2, time.Second, 20 * ms},
		{"capped at max", 10, 50 * ms, 50 * ms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Name: PolicyExponential, Base: 5 * ms, Max: tt.max}
			if got := p.Delay(tt.attempts, nil); got != tt.want {
				t.Errorf("Delay(exponential) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayJitterBounds(t *testing.T) {
	tests := []struct {
		policy   string
		attempts int
		lo, hi   time.Duration
	}{
		{PolicyExpEqualJitter, 1, 5 * ms, 10 * ms},
		{PolicyExpEqualJitter, 10, 25 * ms, 50 * ms},
		{PolicyExpFullJitter, 2, 0, 20 * ms},
		{"unknown_policy", 2, 0, 20 * ms},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p := Policy{Name: tt.policy, Base: 5 * ms, Max: 50 * ms}
			rng := rand.New(rand.NewSource(7))
			for i := 0; i < 50; i++ {
				got := p.Delay(tt.attempts, rng)
				if got < tt.lo || got > tt.hi {
					t.Fatalf("Delay(%s) = %v, want between %v and %v", tt.policy, got, tt.lo, tt.hi)
				}
			}
		})
	}
}

func TestValid(t *testing.T) {
	for _, name := range []string{"", PolicyNone, PolicyFixed, PolicyExpFullJitter} {
		if !Valid(name) {
			t.Errorf("Valid(%q) = false", name)
		}
	}
	if Valid("sometimes") {
		t.Error("Valid(sometimes) = true")
	}
}
