package recovery

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy paces reconnect attempts.
type BackoffStrategy interface {
	// NextDelay returns the wait before the given retry (1 = first retry).
	NextDelay(attempt int) time.Duration
	// MaxAttempts returns the total number of reconnect attempts.
	MaxAttempts() int
}

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

// DefaultPolicy waits DefaultDelay between up to DefaultMaxAttempts attempts.
func DefaultPolicy() BackoffStrategy {
	return NewConstantBackoff(DefaultDelay, DefaultMaxAttempts)
}

// NewPolicy builds the named backoff strategy: "constant" waits delay before
// every retry, "exponential" doubles it from delay up to maxDelay.
func NewPolicy(name string, delay, maxDelay time.Duration, attempts int) (BackoffStrategy, error) {
	switch name {
	case "", "constant":
		return NewConstantBackoff(delay, attempts), nil
	case "exponential":
		if maxDelay < delay {
			maxDelay = delay
		}
		return NewExponentialBackoff(delay, maxDelay, attempts), nil
	}
	return nil, fmt.Errorf("unknown backoff policy %q", name)
}

// ExponentialBackoff multiplies the delay by a factor on every retry, up to maxDelay.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
	maxAttempts  int
	rnd          *rand.Rand
}

// NewExponentialBackoff uses factor 2 and 20% jitter.
func NewExponentialBackoff(initialDelay, maxDelay time.Duration, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{initialDelay: initialDelay, maxDelay: maxDelay, factor: 2, jitter: 0.2, maxAttempts: maxAttempts, rnd: newRand()}
}

// WithJitter spreads delays by up to ±jitter/2.
func (b *ExponentialBackoff) WithJitter(jitter float64) *ExponentialBackoff {
	b.jitter = jitter
	return b
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(b.initialDelay) * math.Pow(b.factor, float64(attempt-1))
	delay = applyJitter(delay, b.jitter, b.rnd)
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	return time.Duration(delay)
}

func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// ConstantBackoff waits the same delay before every retry. It has no jitter
// unless WithJitter is used.
type ConstantBackoff struct {
	delay       time.Duration
	maxAttempts int
	jitter      float64
	rnd         *rand.Rand
}

func NewConstantBackoff(delay time.Duration, maxAttempts int) *ConstantBackoff {
	return &ConstantBackoff{delay: delay, maxAttempts: maxAttempts, rnd: newRand()}
}

func (b *ConstantBackoff) WithJitter(jitter float64) *ConstantBackoff {
	b.jitter = jitter
	return b
}

func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(applyJitter(float64(b.delay), b.jitter, b.rnd))
}

func (b *ConstantBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// NoBackoff retries immediately. Tests use it.
type NoBackoff struct {
	maxAttempts int
}

func NewNoBackoff(maxAttempts int) *NoBackoff {
	return &NoBackoff{maxAttempts: maxAttempts}
}

func (b *NoBackoff) NextDelay(int) time.Duration {
	return 0
}

func (b *NoBackoff) MaxAttempts() int {
	return b.maxAttempts
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// applyJitter shifts delay by a random amount within ±jitter/2 of itself.
func applyJitter(delay, jitter float64, rnd *rand.Rand) float64 {
	if jitter <= 0 {
		return delay
	}
	return delay + (rnd.Float64()-0.5)*delay*jitter
}
