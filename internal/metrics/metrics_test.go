package metrics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/example/faceeval/internal/verification"
)

func rec(granted bool, distance float64) verification.Record {
	return verification.Record{Granted: granted, Distance: verification.Distance(distance)}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// Two authorized and two unauthorized queries, one of each decided wrongly.
func scenario() (verification.Population, verification.Population) {
	authorized := verification.Population{rec(true, 0.3), rec(false, 0.9)}
	unauthorized := verification.Population{rec(false, 0.8), rec(true, 0.4)}
	return authorized, unauthorized
}

func TestScenarioAtThreshold(t *testing.T) {
	authorized, unauthorized := scenario()

	c := Confusion(authorized, unauthorized)
	if c != (ConfusionMatrix{TN: 1, FP: 1, FN: 1, TP: 1}) {
		t.Fatalf("Confusion() = %+v", c)
	}

	far, frr, err := FARFRR(authorized, unauthorized)
	if err != nil {
		t.Fatalf("FARFRR() error = %v", err)
	}
	if !almostEqual(far, 0.5) || !almostEqual(frr, 0.5) {
		t.Fatalf("FAR=%v FRR=%v, want 0.5 and 0.5", far, frr)
	}

	rate, err := GrantRate(authorized)
	if err != nil || !almostEqual(rate, 0.5) {
		t.Fatalf("GrantRate() = %v, %v", rate, err)
	}
}

func TestGrantRate(t *testing.T) {
	all := verification.Population{rec(true, 0.1), rec(true, 0.2)}
	none := verification.Population{rec(false, 0.1), rec(false, math.Inf(1))}

	if r, err := GrantRate(all); err != nil || r != 1 {
		t.Fatalf("all granted: %v, %v", r, err)
	}
	if r, err := GrantRate(none); err != nil || r != 0 {
		t.Fatalf("none granted: %v, %v", r, err)
	}
	if _, err := GrantRate(nil); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation, got %v", err)
	}
}

func TestFARFRREmptyClass(t *testing.T) {
	authorized, unauthorized := scenario()
	if _, _, err := FARFRR(nil, unauthorized); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation for no authorized records, got %v", err)
	}
	if _, _, err := FARFRR(authorized, nil); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation for no unauthorized records, got %v", err)
	}
}

// FAR is defined as 1-TPR, so TPR must be recoverable from it exactly, and
// FRR must equal the false positive rate.
func TestFARReconstructsTPR(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		authorized := randomPopulation(rng, 1+rng.Intn(20))
		unauthorized := randomPopulation(rng, 1+rng.Intn(20))

		far, frr, err := FARFRR(authorized, unauthorized)
		if err != nil {
			t.Fatalf("FARFRR() error = %v", err)
		}
		c := Confusion(authorized, unauthorized)
		tpr := float64(c.TP) / float64(c.TP+c.FN)
		fpr := float64(c.FP) / float64(c.FP+c.TN)
		if !almostEqual(1-far, tpr) {
			t.Fatalf("1-FAR = %v, TPR = %v", 1-far, tpr)
		}
		if !almostEqual(frr, fpr) {
			t.Fatalf("FRR = %v, FPR = %v", frr, fpr)
		}
	}
}

func TestConfusionCountsEveryRecord(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		authorized := randomPopulation(rng, rng.Intn(15))
		unauthorized := randomPopulation(rng, rng.Intn(15))
		c := Confusion(authorized, unauthorized)
		if c.Total() != len(authorized)+len(unauthorized) {
			t.Fatalf("counts %+v do not sum to %d", c, len(authorized)+len(unauthorized))
		}
	}
}

func TestROCScenario(t *testing.T) {
	authorized, unauthorized := scenario()
	curve, err := ROC(authorized, unauthorized, 0.5)
	if err != nil {
		t.Fatalf("ROC() error = %v", err)
	}

	wantFPR := []float64{0, 0, 0.5, 1, 1}
	wantTPR := []float64{0, 0.5, 0.5, 0.5, 1}
	wantThr := []float64{math.Inf(-1), 0.3, 0.4, 0.8, 0.9}
	if curve.Len() != len(wantFPR) {
		t.Fatalf("got %d points, want %d: %+v", curve.Len(), len(wantFPR), curve)
	}
	for i := range wantFPR {
		if !almostEqual(curve.FPR[i], wantFPR[i]) || !almostEqual(curve.TPR[i], wantTPR[i]) {
			t.Errorf("point %d = (%v, %v), want (%v, %v)", i, curve.FPR[i], curve.TPR[i], wantFPR[i], wantTPR[i])
		}
		got := float64(curve.Thresholds[i])
		if got != wantThr[i] && !almostEqual(got, wantThr[i]) {
			t.Errorf("threshold %d = %v, want %v", i, got, wantThr[i])
		}
	}

	if auc := curve.AUC(); !almostEqual(auc, 0.5) {
		t.Errorf("AUC() = %v, want 0.5", auc)
	}
	eer, at := curve.EER()
	if !almostEqual(eer, 0.5) || !almostEqual(at, 0.4) {
		t.Errorf("EER() = %v at %v, want 0.5 at 0.4", eer, at)
	}
}

func TestROCRemapsInfiniteDistanceToThreshold(t *testing.T) {
	authorized := verification.Population{rec(true, 0.1), rec(false, math.Inf(1))}
	unauthorized := verification.Population{rec(false, math.Inf(1)), rec(false, 0.7)}

	curve, err := ROC(authorized, unauthorized, 0.5)
	if err != nil {
		t.Fatalf("ROC() error = %v", err)
	}
	for _, thr := range curve.Thresholds[1:] {
		if thr.IsInf() {
			t.Fatalf("infinite threshold in sweep: %v", curve.Thresholds)
		}
	}
	// 0.1, 0.5 (both remapped records), 0.7
	if curve.Len() != 4 || float64(curve.Thresholds[2]) != 0.5 {
		t.Fatalf("unexpected curve: %+v", curve)
	}
	if !almostEqual(curve.TPR[2], 1) || !almostEqual(curve.FPR[2], 0.5) {
		t.Fatalf("point at threshold = (%v, %v), want (0.5, 1)", curve.FPR[2], curve.TPR[2])
	}
}

func TestROCMonotoneFromOriginToCorner(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		authorized := randomPopulation(rng, 1+rng.Intn(30))
		unauthorized := randomPopulation(rng, 1+rng.Intn(30))

		curve, err := ROC(authorized, unauthorized, 0.6)
		if err != nil {
			t.Fatalf("ROC() error = %v", err)
		}
		if curve.FPR[0] != 0 || curve.TPR[0] != 0 {
			t.Fatalf("curve does not start at origin: %+v", curve)
		}
		last := curve.Len() - 1
		if !almostEqual(curve.FPR[last], 1) || !almostEqual(curve.TPR[last], 1) {
			t.Fatalf("curve does not end at (1,1): %+v", curve)
		}
		for j := 1; j < curve.Len(); j++ {
			if curve.FPR[j] < curve.FPR[j-1] || curve.TPR[j] < curve.TPR[j-1] {
				t.Fatalf("curve not monotone at %d: %+v", j, curve)
			}
			if curve.Thresholds[j] <= curve.Thresholds[j-1] {
				t.Fatalf("thresholds not strictly ascending at %d", j)
			}
		}
		if auc := curve.AUC(); auc < 0 || auc > 1 {
			t.Fatalf("AUC out of range: %v", auc)
		}
	}
}

func TestROCSeparable(t *testing.T) {
	authorized := verification.Population{rec(true, 0.1), rec(true, 0.2)}
	unauthorized := verification.Population{rec(false, 0.8), rec(false, 0.9)}

	curve, err := ROC(authorized, unauthorized, 0.5)
	if err != nil {
		t.Fatalf("ROC() error = %v", err)
	}
	if auc := curve.AUC(); !almostEqual(auc, 1) {
		t.Fatalf("AUC() = %v, want 1", auc)
	}
	if eer, _ := curve.EER(); !almostEqual(eer, 0) {
		t.Fatalf("EER() = %v, want 0", eer)
	}
}

func TestROCErrors(t *testing.T) {
	authorized, unauthorized := scenario()
	if _, err := ROC(nil, unauthorized, 0.5); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation, got %v", err)
	}
	if _, err := ROC(authorized, nil, 0.5); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation, got %v", err)
	}
	for _, thr := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := ROC(authorized, unauthorized, thr); !errors.Is(err, ErrInvalidThreshold) {
			t.Fatalf("threshold %v: expected ErrInvalidThreshold, got %v", thr, err)
		}
	}
}

func TestMetricsDoNotMutateInputs(t *testing.T) {
	authorized := verification.Population{rec(true, 0.3), rec(false, math.Inf(1))}
	unauthorized := verification.Population{rec(true, 0.4)}
	before := append(verification.Population(nil), authorized...)

	if _, err := Summarize(authorized, unauthorized, 0.5); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	for i := range before {
		if authorized[i] != before[i] {
			t.Fatalf("record %d mutated: %+v -> %+v", i, before[i], authorized[i])
		}
	}
}

func TestSummarize(t *testing.T) {
	authorized, unauthorized := scenario()
	s, err := Summarize(authorized, unauthorized, 0.5)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if s.AuthorizedCount != 2 || s.UnauthorizedCount != 2 {
		t.Fatalf("counts: %+v", s)
	}
	if !almostEqual(s.AuthorizedGrantRate, 0.5) || !almostEqual(s.UnauthorizedGrantRate, 0.5) {
		t.Fatalf("grant rates: %+v", s)
	}
	if !almostEqual(s.FAR, 0.5) || !almostEqual(s.FRR, 0.5) || !almostEqual(s.AUC, 0.5) {
		t.Fatalf("rates: %+v", s)
	}

	if _, err := Summarize(nil, unauthorized, 0.5); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation, got %v", err)
	}
}

func randomPopulation(rng *rand.Rand, n int) verification.Population {
	p := make(verification.Population, n)
	for i := range p {
		d := math.Round(rng.Float64()*100) / 100
		if rng.Intn(8) == 0 {
			p[i] = rec(false, math.Inf(1))
			continue
		}
		p[i] = rec(rng.Intn(2) == 0, d)
	}
	return p
}
