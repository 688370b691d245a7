package clock

import "time"

// Clock abstracts time so replay pacing works against both real and
// virtual time. Code that waits uses this interface instead of time.After.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the standard time package.
type Real struct{}

func NewReal() *Real {
	return &Real{}
}

func (c *Real) Now() time.Time {
	return time.Now()
}

func (c *Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
