package strategy

import "math"

// mean of a close series.
func mean(closes []int64) float64 {
	if len(closes) == 0 {
		return 0
	}
	var sum int64
	for _, c := range closes {
		sum += c
	}
	return float64(sum) / float64(len(closes))
}

// sampleStddev is the n-1 standard deviation of the close series.
// With fewer than two points there is no spread to measure.
func sampleStddev(closes []int64) float64 {
	n := len(closes)
	if n < 2 {
		return 0
	}
	m := mean(closes)
	var ss float64
	for _, c := range closes {
		d := float64(c) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// lowerBand is the mean minus k sample deviations over the window.
func lowerBand(closes []int64, k float64) float64 {
	return mean(closes) - k*sampleStddev(closes)
}

// oscillator computes a 0-100 momentum reading over the trailing
// period from successive close-to-close moves. It needs period+1
// closes; a series with no losing moves saturates at 100 and one with
// no winning moves reads 0.
func oscillator(closes []int64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	tail := closes[len(closes)-period-1:]
	var gain, loss float64
	for i := 1; i < len(tail); i++ {
		diff := float64(tail[i] - tail[i-1])
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
