package features

// ring is a fixed-capacity FIFO of samples; pushing onto a full ring
// evicts the oldest value.
type ring struct {
	vals  []float64
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{vals: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if len(r.vals) == 0 {
		return
	}
	if r.n < len(r.vals) {
		r.vals[(r.start+r.n)%len(r.vals)] = v
		r.n++
		return
	}
	r.vals[r.start] = v
	r.start = (r.start + 1) % len(r.vals)
}

func (r *ring) last() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	return r.vals[(r.start+r.n-1)%len(r.vals)], true
}

func (r *ring) full() bool { return r.n == len(r.vals) }

func (r *ring) len() int { return r.n }

// slice copies the contents oldest first.
func (r *ring) slice() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.vals[(r.start+i)%len(r.vals)]
	}
	return out
}

func (r *ring) clear() {
	r.start, r.n = 0, 0
}
