package memorystore

// ring is a fixed-capacity FIFO of samples. Once full, each push overwrites
// the oldest entry.
type ring struct {
	buf   []PriceSample
	start int // index of the oldest sample
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]PriceSample, capacity)}
}

func (r *ring) push(s PriceSample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// last copies the newest n samples, oldest first. n <= 0 or n > size means all.
func (r *ring) last(n int) []PriceSample {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]PriceSample, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.size
}
