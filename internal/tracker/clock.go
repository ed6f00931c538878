package tracker

import "time"

// Ticker abstracts time.Ticker so tests can drive polls without
// wall-clock waits.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock produces time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// NewClock returns the wall-clock implementation.
func NewClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
