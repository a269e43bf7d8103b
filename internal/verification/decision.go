package verification

import (
	"bytes"
	"math"
	"strconv"

	"github.com/example/faceeval/internal/gallery"
	"github.com/example/faceeval/internal/matcher"
)

// Distance is a dissimilarity score. +Inf means "no match" and encodes to
// JSON as the string "+Inf" since JSON numbers cannot represent it.
type Distance float64

// NoMatchDistance is the distance recorded when nothing matched.
var NoMatchDistance = Distance(math.Inf(1))

// IsInf reports whether d is +Inf or -Inf.
func (d Distance) IsInf() bool { return math.IsInf(float64(d), 0) }

// MarshalJSON implements json.Marshaler.
func (d Distance) MarshalJSON() ([]byte, error) {
	f := float64(d)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Distance) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*d = Distance(f)
	return nil
}

// MatchResult is the best gallery match for a query. Identity is the
// identity label, empty when nothing matched; Distance is +Inf then.
type MatchResult struct {
	Identity string
	Distance float64
}

// NoMatch is the result for an image without an acceptable match.
func NoMatch() MatchResult {
	return MatchResult{Distance: math.Inf(1)}
}

// Decision is the verdict for one claimed identity.
type Decision struct {
	Granted  bool
	Distance float64
}

// Decide applies the closed-world top-1 rule: access is granted only when
// the closest gallery match belongs to the claimed identity. The distance
// is carried through and never gates the verdict by itself; the matcher
// already dropped candidates beyond the threshold.
func Decide(claimed string, res MatchResult) Decision {
	if math.IsInf(res.Distance, 1) {
		return Decision{Granted: false, Distance: math.Inf(1)}
	}
	return Decision{Granted: res.Identity == claimed, Distance: res.Distance}
}

// ResultFromCandidates keeps the first (best) candidate and converts its
// gallery path to an identity label. No candidates means no match.
func ResultFromCandidates(candidates []matcher.Candidate, labeler gallery.Labeler) (MatchResult, error) {
	if len(candidates) == 0 {
		return NoMatch(), nil
	}
	best := candidates[0]
	label, err := labeler.Label(best.Identity)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Identity: label, Distance: best.Distance}, nil
}
