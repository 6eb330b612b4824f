package tracking

// speedBuffer is a fixed capacity FIFO of km/h samples.
type speedBuffer struct {
	samples []float64
	next    int
	full    bool
}

func newSpeedBuffer(capacity int) speedBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return speedBuffer{samples: make([]float64, 0, capacity)}
}

func (b *speedBuffer) push(v float64) {
	if !b.full {
		b.samples = append(b.samples, v)
		if len(b.samples) == cap(b.samples) {
			b.full = true
		}
		return
	}
	b.samples[b.next] = v
	b.next = (b.next + 1) % len(b.samples)
}

func (b *speedBuffer) mean() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range b.samples {
		sum += v
	}
	return sum / float64(len(b.samples))
}

// ordered returns the samples oldest first.
func (b *speedBuffer) ordered() []float64 {
	out := make([]float64, 0, len(b.samples))
	if !b.full {
		return append(out, b.samples...)
	}
	out = append(out, b.samples[b.next:]...)
	return append(out, b.samples[:b.next]...)
}

// etaMinutes is zero when the average speed is zero.
func etaMinutes(remainingMeters, avgKmh float64) float64 {
	if avgKmh <= 0 {
		return 0
	}
	return remainingMeters / 1000 / avgKmh * 60
}
