package sampler

import "math"

const (
	wrap32 = float64(1 << 32)
	// a 32-bit counter is only assumed to have wrapped when its previous
	// reading was in the upper half of the range
	wrap32Threshold = wrap32 / 2
)

// CounterDelta returns the non-negative change of the counter name between prev and
// cur. Missing snapshots or readings, time going backwards and counter
// resets all report 0.
func CounterDelta(prev, cur *Snapshot, name string, width Width) float64 {
	dv, _, ok := counterChange(prev, cur, name, width)
	if !ok {
		return 0
	}
	return dv
}

// PerSecond returns the non-negative per-second rate of the counter name
// between prev and cur, with the same zero cases as CounterDelta.
func PerSecond(prev, cur *Snapshot, name string, width Width) float64 {
	dv, dt, ok := counterChange(prev, cur, name, width)
	if !ok {
		return 0
	}
	r := dv / dt
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func counterChange(prev, cur *Snapshot, name string, width Width) (dv, dt float64, ok bool) {
	if prev == nil || cur == nil {
		return 0, 0, false
	}
	p, okPrev := prev.Value(name)
	c, okCur := cur.Value(name)
	if !okPrev || !okCur {
		return 0, 0, false
	}
	dt = cur.CapturedAt.Sub(prev.CapturedAt).Seconds()
	if dt <= 0 {
		return 0, 0, false
	}
	dv = c - p
	if dv < 0 {
		dv = correctWrap(p, c, width)
	}
	if dv < 0 || math.IsNaN(dv) {
		// reset: the source restarted, report nothing for this interval
		return 0, 0, false
	}
	return dv, dt, true
}

// correctWrap returns the wrap-corrected delta, or a negative value when the
// decrease cannot be explained by wraparound.
func correctWrap(prev, cur float64, width Width) float64 {
	if width != Width32 {
		return cur - prev
	}
	if prev < wrap32Threshold || prev >= wrap32 || cur < 0 || cur >= wrap32 {
		return cur - prev
	}
	return cur + wrap32 - prev
}
