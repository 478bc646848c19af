package persistence

import (
	"fmt"
	"time"
)

// Policy is the exponential backoff applied to transient remote failures.
// It is immutable after construction.
type Policy struct {
	Base        time.Duration `koanf:"base"`       // first retry delay
	Multiplier  float64       `koanf:"multiplier"` // growth factor per retry
	Max         time.Duration `koanf:"max"`        // cap for growth
	MaxAttempts int           `koanf:"attempts"`   // total attempts, including the first
}

// DefaultPolicy returns 500ms doubling up to 30s, five attempts.
func DefaultPolicy() Policy {
	return Policy{Base: 500 * time.Millisecond, Multiplier: 2, Max: 30 * time.Second, MaxAttempts: 5}
}

// Delay returns the wait before the given retry (1-based: the first retry is 1).
func (p Policy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := float64(p.Base)
	for i := 1; i < retry; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	if time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("retry base must be > 0")
	}
	if p.Max < p.Base {
		return fmt.Errorf("retry max must be >= base")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1")
	}
	return nil
}
