// Package metrics computes biometric quality measures over an authorized
// population (every query should be granted) and an unauthorized
// population (every query should be denied). All functions are pure and
// leave their inputs untouched.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/faceeval/internal/verification"
)

var (
	// ErrEmptyPopulation is returned when a rate would divide by zero
	// because a population or a ground-truth class has no records.
	ErrEmptyPopulation = errors.New("metrics: empty population")

	// ErrInvalidThreshold is returned for negative or NaN thresholds.
	ErrInvalidThreshold = errors.New("metrics: invalid threshold")
)

// GrantRate is the fraction of records in p that were granted access.
func GrantRate(p verification.Population) (float64, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: grant rate of zero records", ErrEmptyPopulation)
	}
	return float64(p.GrantedCount()) / float64(len(p)), nil
}

// ConfusionMatrix holds outcome counts with "should be granted" as the
// positive class.
type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Total is the number of records counted.
func (c ConfusionMatrix) Total() int {
	return c.TN + c.FP + c.FN + c.TP
}

// Confusion counts outcomes at the threshold the records were decided with.
// Authorized records are ground-truth positive, unauthorized negative, and
// each record's Granted flag is the prediction.
func Confusion(authorized, unauthorized verification.Population) ConfusionMatrix {
	var c ConfusionMatrix
	for _, r := range authorized {
		if r.Granted {
			c.TP++
		} else {
			c.FN++
		}
	}
	for _, r := range unauthorized {
		if r.Granted {
			c.FP++
		} else {
			c.TN++
		}
	}
	return c
}

// FARFRR returns the two error rates as this system defines them:
//
//	FAR = 1 - TP/(TP+FN)   authorized users wrongly denied
//	FRR = FP/(FP+TN)       unauthorized queries wrongly granted
//
// The names are swapped relative to the usual biometric convention, where
// FAR counts impostors accepted. The formulas are kept as they are; read
// FAR as the denial-side error and FRR as the acceptance-side error.
func FARFRR(authorized, unauthorized verification.Population) (far, frr float64, err error) {
	c := Confusion(authorized, unauthorized)
	if c.TP+c.FN == 0 {
		return 0, 0, fmt.Errorf("%w: no authorized records", ErrEmptyPopulation)
	}
	if c.FP+c.TN == 0 {
		return 0, 0, fmt.Errorf("%w: no unauthorized records", ErrEmptyPopulation)
	}
	tpr := float64(c.TP) / float64(c.TP+c.FN)
	fpr := float64(c.FP) / float64(c.FP+c.TN)
	return 1 - tpr, fpr, nil
}

// Summary bundles every measure for one evaluation run.
type Summary struct {
	Threshold             float64               `json:"threshold"`
	AuthorizedCount       int                   `json:"authorized_count"`
	UnauthorizedCount     int                   `json:"unauthorized_count"`
	AuthorizedGrantRate   float64               `json:"authorized_grant_rate"`
	UnauthorizedGrantRate float64               `json:"unauthorized_grant_rate"`
	Confusion             ConfusionMatrix       `json:"confusion"`
	FAR                   float64               `json:"far"`
	FRR                   float64               `json:"frr"`
	AUC                   float64               `json:"auc"`
	EER                   float64               `json:"eer"`
	EERThreshold          verification.Distance `json:"eer_threshold"`
	ROC                   Curve                 `json:"roc"`
}

// Summarize computes all measures. It fails when either population is empty
// rather than reporting rates over no data.
func Summarize(authorized, unauthorized verification.Population, threshold float64) (Summary, error) {
	authRate, err := GrantRate(authorized)
	if err != nil {
		return Summary{}, fmt.Errorf("authorized: %w", err)
	}
	unauthRate, err := GrantRate(unauthorized)
	if err != nil {
		return Summary{}, fmt.Errorf("unauthorized: %w", err)
	}
	far, frr, err := FARFRR(authorized, unauthorized)
	if err != nil {
		return Summary{}, err
	}
	curve, err := ROC(authorized, unauthorized, threshold)
	if err != nil {
		return Summary{}, err
	}
	eer, eerThreshold := curve.EER()

	return Summary{
		Threshold:             threshold,
		AuthorizedCount:       len(authorized),
		UnauthorizedCount:     len(unauthorized),
		AuthorizedGrantRate:   authRate,
		UnauthorizedGrantRate: unauthRate,
		Confusion:             Confusion(authorized, unauthorized),
		FAR:                   far,
		FRR:                   frr,
		AUC:                   curve.AUC(),
		EER:                   eer,
		EERThreshold:          verification.Distance(eerThreshold),
		ROC:                   curve,
	}, nil
}

func validThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return nil
}
