package watchdog

import "time"

// computeWait implements the annotation watchdog's back-off formula: it
// spaces out re-checks when a project is far from its labeling target and
// not gaining new annotations, and checks back sooner as it nears the
// target or gains annotations quickly. Grounded in
// annotation_watchdog.py's run() loop, which computes "frac" from
// progress (count/threshold) and delta (the change in count since the
// last iteration) before scaling it into [waitMin, waitMax].
func computeWait(count, lastCount, threshold int, waitMin, waitMax time.Duration) time.Duration {
	progress := clamp01(ratio(float64(count), float64(threshold)))
	delta := ratio(float64(count-lastCount), maxFloat(1, float64(count+lastCount)))

	frac := 0.8*(1-pow4(progress)) + 0.2*(1-delta*delta)

	wait := time.Duration(float64(waitMax) * frac)
	if wait < waitMin {
		return waitMin
	}
	if wait > waitMax {
		return waitMax
	}
	return wait
}

func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func pow4(v float64) float64 {
	sq := v * v
	return sq * sq
}
