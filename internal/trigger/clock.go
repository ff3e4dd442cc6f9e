package trigger

import "time"

// Clock provides the time operations triggers block on, so settle delays
// can be skipped in tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock uses the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// FakeClock is a test clock that records sleeps instead of performing
// them and can be manually advanced.
type FakeClock struct {
	current time.Time
	Slept   []time.Duration
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time                  { return f.current }
func (f *FakeClock) Since(t time.Time) time.Duration { return f.current.Sub(t) }
func (f *FakeClock) Advance(d time.Duration)         { f.current = f.current.Add(d) }

func (f *FakeClock) Sleep(d time.Duration) {
	f.Slept = append(f.Slept, d)
	f.current = f.current.Add(d)
}
