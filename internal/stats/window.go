package stats

import "time"

type sample struct {
	at time.Time
	v  float64
}

// window keeps the most recent samples, bounded by count and by age.
type window struct {
	max    int
	maxAge time.Duration
	data   []sample
}

func newWindow(max int, maxAge time.Duration) *window {
	return &window{max: max, maxAge: maxAge}
}

func (w *window) add(at time.Time, v float64) {
	w.data = append(w.data, sample{at: at, v: v})
	if over := len(w.data) - w.max; over > 0 {
		w.data = append(w.data[:0], w.data[over:]...)
	}
}

// mean returns the average of the samples no older than maxAge at now.
func (w *window) mean(now time.Time) (float64, int) {
	cutoff := now.Add(-w.maxAge)
	var sum float64
	var n int
	for _, s := range w.data {
		if s.at.Before(cutoff) {
			continue
		}
		sum += s.v
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
