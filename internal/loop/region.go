// Package loop holds the practice loop region and the playback monitor that
// detects when playback reaches its end.
package loop

import (
	"math"

	"github.com/icco/abcd/internal/faults"
)

// MinSpan is the shortest loop allowed, in seconds.
const MinSpan = 1.0

// Region is the loop within the track. With UseFullTrack set the effective
// loop is the whole track regardless of Start and End.
type Region struct {
	Start        float64
	End          float64
	UseFullTrack bool
}

// FullTrack returns the default region for a freshly loaded track.
func FullTrack(duration float64) Region {
	return Region{Start: 0, End: duration, UseFullTrack: true}
}

// Effective returns the bounds playback should loop across.
func (r Region) Effective(duration float64) (float64, float64) {
	if r.UseFullTrack {
		return 0, duration
	}
	return r.Start, r.End
}

// span returns the minimum span achievable within duration.
func span(duration float64) float64 {
	return math.Min(MinSpan, duration)
}

func clampTo(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// SetStart moves the start marker, pushing End forward when needed to keep
// the minimum span. It returns an InvalidLoopRange error when v had to be
// clamped; the region is valid either way.
func (r *Region) SetStart(v, duration float64) error {
	s := span(duration)
	r.Start = clampTo(v, 0, duration-s)
	r.End = clampTo(r.End, r.Start+s, duration)
	if r.Start != v {
		return faults.New(faults.InvalidLoopRange, "loop start out of range", "Loop start was adjusted")
	}
	return nil
}

// SetEnd moves the end marker, pulling Start back when needed.
func (r *Region) SetEnd(v, duration float64) error {
	s := span(duration)
	r.End = clampTo(v, s, duration)
	r.Start = clampTo(r.Start, 0, r.End-s)
	if r.End != v {
		return faults.New(faults.InvalidLoopRange, "loop end out of range", "Loop end was adjusted")
	}
	return nil
}

// Set replaces both markers and enables the explicit loop. An inverted or
// out-of-bounds request keeps the start and pushes the end.
func (r *Region) Set(start, end, duration float64) error {
	s := span(duration)
	ns := clampTo(start, 0, duration-s)
	ne := clampTo(end, ns+s, duration)
	*r = Region{Start: ns, End: ne}
	if ns != start || ne != end {
		return faults.New(faults.InvalidLoopRange, "loop range invalid", "Loop markers were adjusted")
	}
	return nil
}

// Valid reports whether the markers satisfy the region invariant.
func (r Region) Valid(duration float64) bool {
	return r.Start >= 0 && r.End <= duration && r.End-r.Start >= span(duration)-1e-9
}
