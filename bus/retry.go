package bus

import "time"

const maxReadRetries = 9

// retryRead samples read b.Retries times, pausing 1µs after each sample,
// and returns the value seen most often. A tie keeps the earliest sample
// that reached the winning count.
func (b *Board) retryRead(read func() byte) byte {
	n := b.Retries
	if n < 1 {
		n = 1
	}
	if n > maxReadRetries {
		n = maxReadRetries
	}

	var values [maxReadRetries]byte
	for i := 0; i < n; i++ {
		values[i] = read()
		b.Wait(time.Microsecond)
	}
	if n == 1 {
		return values[0]
	}

	best := values[0]
	bestCount := 1
	for i := 0; i < n; i++ {
		count := 1
		for j := i + 1; j < n; j++ {
			if values[j] == values[i] {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = values[i]
		}
	}
	return best
}
