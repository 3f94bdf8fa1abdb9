// Package leadlag measures which of two price feeds leads the other, by
// sampling both on a fixed cadence and scanning Pearson correlation across
// sample offsets.
package leadlag

import (
	"math"
)

// Series is a bounded append-only price series. Once full, the oldest
// sample is dropped.
type Series struct {
	buf []float64
	max int
}

// NewSeries creates a series holding at most max samples.
func NewSeries(max int) *Series {
	return &Series{max: max}
}

// Append adds a sample, evicting the oldest when the series is full.
func (s *Series) Append(price float64) {
	if len(s.buf) == s.max {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = price
		return
	}
	s.buf = append(s.buf, price)
}

// Len reports the number of held samples.
func (s *Series) Len() int {
	return len(s.buf)
}

// Values returns a copy of the held samples, oldest first.
func (s *Series) Values() []float64 {
	return append([]float64(nil), s.buf...)
}

// Pearson computes the correlation coefficient of two equal-length
// samples. It returns 0 for degenerate inputs (short or constant series).
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// BestLag scans correlations of a against b shifted by up to maxLag
// samples in either direction and returns the offset with the strongest
// absolute correlation. A positive lag means a leads b by that many
// samples; negative means b leads a.
func BestLag(a, b []float64, maxLag int) (lag int, corr float64) {
	for l := -maxLag; l <= maxLag; l++ {
		c := lagCorr(a, b, l)
		if math.Abs(c) > math.Abs(corr) {
			corr = c
			lag = l
		}
	}
	return lag, corr
}

// lagCorr correlates a[t] against b[t+lag] over the overlapping window.
func lagCorr(a, b []float64, lag int) float64 {
	if lag >= 0 {
		if lag >= len(b) {
			return 0
		}
		n := min(len(a), len(b)-lag)
		if n < 2 {
			return 0
		}
		return Pearson(a[:n], b[lag:lag+n])
	}

	shift := -lag
	if shift >= len(a) {
		return 0
	}
	n := min(len(a)-shift, len(b))
	if n < 2 {
		return 0
	}
	return Pearson(a[shift:shift+n], b[:n])
}
