// Package clock provides a seam for time, letting the annotation
// watchdog's back-off loop and the tracker's reconciliation be tested
// without real sleeps.
package clock

import "time"

// Clock abstracts time.Now and time.Sleep.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time        { return time.Now() }
func (Real) Sleep(d time.Duration) { time.Sleep(d) }
