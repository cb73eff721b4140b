package anomaly

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// codeStats summarizes one code's provider population.
type codeStats struct {
	n          int
	meanPaid   decimal.Decimal
	stdPaid    float64
	meanClaims float64
	stdClaims  float64
}

// summarize computes the population mean and sample standard deviation of
// provider totals for one code. Paid means are summed exactly.
func summarize(members []spending.PairTotal) codeStats {
	st := codeStats{n: len(members)}
	if st.n == 0 {
		return st
	}

	paidSum := decimal.Zero
	var claimSum int64
	paid := make([]float64, st.n)
	claims := make([]float64, st.n)
	for i, m := range members {
		paidSum = paidSum.Add(m.TotalPaid.Decimal)
		claimSum += m.TotalClaims
		paid[i] = m.TotalPaid.InexactFloat64()
		claims[i] = float64(m.TotalClaims)
	}

	count := decimal.NewFromInt(int64(st.n))
	st.meanPaid = paidSum.Div(count)
	st.meanClaims = float64(claimSum) / float64(st.n)
	st.stdPaid = sampleStdDev(paid, st.meanPaid.InexactFloat64())
	st.stdClaims = sampleStdDev(claims, st.meanClaims)
	return st
}

// sampleStdDev is the n-1 standard deviation around mean. It is exactly 0
// for fewer than two values or when every value is identical.
func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 || allEqual(values) {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// zScore returns (x-mean)/sd, or 0 when sd is zero or not finite.
func zScore(x, mean, sd float64) float64 {
	if sd == 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0
	}
	z := (x - mean) / sd
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0
	}
	return z
}
