package derive

import (
	"math"
	"sort"

	"clash-intelligence/internal/domain"
)

// AceWeights is the fixed weight vector for the five ACE sub-metrics. The
// components must sum to 1 so the composite stays on the 0-100 scale.
type AceWeights struct {
	Offense       float64
	Defense       float64
	Participation float64
	Capital       float64
	Donation      float64
}

// DefaultAceWeights is the production weight vector (sums to 1).
var DefaultAceWeights = AceWeights{
	Offense:       0.40,
	Defense:       0.15,
	Participation: 0.20,
	Capital:       0.15,
	Donation:      0.10,
}

// aceAlpha calibrates the inverse-logit "core" scale: a roster-median
// member with full availability lands near core 0, a top member near +1.8.
const aceAlpha = 1.2

const (
	zClamp     = 2.0
	iqrFloor   = 1.0
	logitFloor = 0.001
	logitCeil  = 0.999
)

// ScoreAce computes the composite ACE score for a roster. Each sub-metric
// is standardized against the roster median and IQR, clamped to [-2, +2] to
// bound outlier influence, and rescaled to [0, 100]; the composite is the
// weighted sum of those shrunk values. Members with availability <= 0 are
// excluded from both the statistics and the result set.
//
// Pure function: fixed inputs produce bit-for-bit identical output.
func ScoreAce(inputs []domain.AceInput) []domain.AceScore {
	eligible := make([]domain.AceInput, 0, len(inputs))
	for _, in := range inputs {
		if in.Availability > 0 {
			eligible = append(eligible, in)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	metrics := []struct {
		value  func(domain.AceInput) float64
		weight float64
	}{
		{func(in domain.AceInput) float64 { return in.Offense }, DefaultAceWeights.Offense},
		{func(in domain.AceInput) float64 { return in.Defense }, DefaultAceWeights.Defense},
		{func(in domain.AceInput) float64 { return in.Participation }, DefaultAceWeights.Participation},
		{func(in domain.AceInput) float64 { return in.Capital }, DefaultAceWeights.Capital},
		{func(in domain.AceInput) float64 { return in.Donation }, DefaultAceWeights.Donation},
	}

	// Shrunk values per metric, indexed like eligible.
	shrunk := make([][]float64, len(metrics))
	for mi, metric := range metrics {
		values := make([]float64, len(eligible))
		for i, in := range eligible {
			values[i] = metric.value(in)
		}
		med, iqr := medianIQR(values)
		if iqr < iqrFloor {
			// Degenerate (near-constant) roster: floor instead of failing.
			iqr = iqrFloor
		}
		shrunk[mi] = make([]float64, len(eligible))
		for i, v := range values {
			z := clamp((v-med)/iqr, -zClamp, zClamp)
			shrunk[mi][i] = (z + zClamp) / (2 * zClamp) * 100
		}
	}

	scores := make([]domain.AceScore, len(eligible))
	for i, in := range eligible {
		ace := 0.0
		for mi, metric := range metrics {
			ace += metric.weight * shrunk[mi][i]
		}
		scores[i] = domain.AceScore{
			Tag:           in.Tag,
			Name:          in.Name,
			Offense:       shrunk[0][i],
			Defense:       shrunk[1][i],
			Participation: shrunk[2][i],
			Capital:       shrunk[3][i],
			Donation:      shrunk[4][i],
			Ace:           ace,
			Core:          coreValue(ace, in.Availability),
		}
	}
	return scores
}

// coreValue re-expresses the bounded composite on an unbounded scale for
// cross-period comparison: inverse logit of the availability-adjusted
// ratio, clamped away from 0 and 1 before the log.
func coreValue(ace, availability float64) float64 {
	p := clamp(ace/(100*availability), logitFloor, logitCeil)
	return math.Log(p/(1-p)) / aceAlpha
}

// medianIQR returns the median and inter-quartile range. Quartiles are the
// medians of the lower and upper halves, excluding the middle element when
// the count is odd. Deterministic for any input order.
func medianIQR(values []float64) (med, iqr float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	med = medianSorted(sorted)
	if n < 2 {
		return med, 0
	}

	half := n / 2
	lower := sorted[:half]
	var upper []float64
	if n%2 == 0 {
		upper = sorted[half:]
	} else {
		upper = sorted[half+1:]
	}
	return med, medianSorted(upper) - medianSorted(lower)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
