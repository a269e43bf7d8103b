package metrics

import (
	"fmt"
	"math"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/example/faceeval/internal/verification"
)

// Curve is an ROC curve. Point i is the (FPR, TPR) obtained by accepting
// every record with distance <= Thresholds[i]. Thresholds ascend; the first
// point is the -Inf sentinel at (0,0) and the last reaches (1,1).
type Curve struct {
	FPR        []float64               `json:"fpr"`
	TPR        []float64               `json:"tpr"`
	Thresholds []verification.Distance `json:"thresholds"`
}

type scoreBucket struct {
	positives int
	negatives int
}

// ROC sweeps every distinct observed distance. Records without a match
// (+Inf distance) are scored at threshold, which keeps the sweep finite and
// puts them at the edge of the acceptance region.
func ROC(authorized, unauthorized verification.Population, threshold float64) (Curve, error) {
	if err := validThreshold(threshold); err != nil {
		return Curve{}, err
	}
	if len(authorized) == 0 {
		return Curve{}, fmt.Errorf("%w: no authorized records", ErrEmptyPopulation)
	}
	if len(unauthorized) == 0 {
		return Curve{}, fmt.Errorf("%w: no unauthorized records", ErrEmptyPopulation)
	}

	buckets := treemap.NewWith(utils.Float64Comparator)
	add := func(r verification.Record, positive bool) {
		score := float64(r.Distance)
		if math.IsInf(score, 0) || math.IsNaN(score) {
			score = threshold
		}
		b, ok := buckets.Get(score)
		if !ok {
			b = &scoreBucket{}
			buckets.Put(score, b)
		}
		if positive {
			b.(*scoreBucket).positives++
		} else {
			b.(*scoreBucket).negatives++
		}
	}
	for _, r := range authorized {
		add(r, true)
	}
	for _, r := range unauthorized {
		add(r, false)
	}

	n := buckets.Size() + 1
	curve := Curve{
		FPR:        make([]float64, 0, n),
		TPR:        make([]float64, 0, n),
		Thresholds: make([]verification.Distance, 0, n),
	}
	curve.FPR = append(curve.FPR, 0)
	curve.TPR = append(curve.TPR, 0)
	curve.Thresholds = append(curve.Thresholds, verification.Distance(math.Inf(-1)))

	p, q := float64(len(authorized)), float64(len(unauthorized))
	var tp, fp int
	it := buckets.Iterator()
	for it.Next() {
		b := it.Value().(*scoreBucket)
		tp += b.positives
		fp += b.negatives
		curve.FPR = append(curve.FPR, float64(fp)/q)
		curve.TPR = append(curve.TPR, float64(tp)/p)
		curve.Thresholds = append(curve.Thresholds, verification.Distance(it.Key().(float64)))
	}
	return curve, nil
}

// Len is the number of points on the curve.
func (c Curve) Len() int {
	return len(c.FPR)
}

// AUC is the area under the curve by the trapezoidal rule.
func (c Curve) AUC() float64 {
	var area float64
	for i := 1; i < len(c.FPR); i++ {
		area += (c.FPR[i] - c.FPR[i-1]) * (c.TPR[i] + c.TPR[i-1]) / 2
	}
	return area
}

// EER returns the equal error rate, where the false positive rate meets the
// false negative rate (1-TPR), interpolating linearly between the two
// surrounding points, and the threshold at which it occurs.
func (c Curve) EER() (rate, threshold float64) {
	if len(c.FPR) == 0 {
		return math.NaN(), math.NaN()
	}
	for i := range c.FPR {
		diff := c.FPR[i] - (1 - c.TPR[i])
		if diff < 0 {
			continue
		}
		if i == 0 {
			return c.FPR[0], float64(c.Thresholds[0])
		}
		prev := c.FPR[i-1] - (1 - c.TPR[i-1])
		w := prev / (prev - diff)
		rate = c.FPR[i-1] + w*(c.FPR[i]-c.FPR[i-1])

		lo, hi := float64(c.Thresholds[i-1]), float64(c.Thresholds[i])
		if math.IsInf(lo, -1) {
			return rate, hi
		}
		return rate, lo + w*(hi-lo)
	}
	last := len(c.FPR) - 1
	return c.FPR[last], float64(c.Thresholds[last])
}
