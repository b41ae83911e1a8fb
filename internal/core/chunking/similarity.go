package chunking

import "math"

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty, zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// window is a fixed-size ring buffer of the most recent similarity values.
type window struct {
	buf  []float64
	next int
	n    int
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *window) len() int { return w.n }

// stats returns the mean and population standard deviation of the window.
func (w *window) stats() (mean, std float64) {
	if w.n == 0 {
		return 0, 0
	}
	for i := 0; i < w.n; i++ {
		mean += w.buf[i]
	}
	mean /= float64(w.n)
	var sq float64
	for i := 0; i < w.n; i++ {
		d := w.buf[i] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(w.n))
}

// meanInto folds vec into the running mean acc of count vectors.
func meanInto(acc, vec []float32, count int) []float32 {
	if len(acc) != len(vec) {
		return acc
	}
	out := make([]float32, len(acc))
	c := float32(count)
	for i := range acc {
		out[i] = (acc[i]*c + vec[i]) / (c + 1)
	}
	return out
}
