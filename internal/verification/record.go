package verification

// Record is one row of evaluation output.
type Record struct {
	Image     string   `json:"image_path"`
	Claimed   string   `json:"claimed_identity"`
	Predicted string   `json:"predicted_identity,omitempty"`
	Granted   bool     `json:"is_access_granted"`
	Distance  Distance `json:"distance"`
	Failure   string   `json:"failure,omitempty"`
}

// Population is an ordered set of records sharing one ground-truth label,
// in the order the queries were listed. It is not modified after the
// evaluator returns it.
type Population []Record

// GrantedCount returns how many records were granted access.
func (p Population) GrantedCount() int {
	n := 0
	for _, r := range p {
		if r.Granted {
			n++
		}
	}
	return n
}

// FailureCount returns how many records degraded because of a per-query
// matcher failure.
func (p Population) FailureCount() int {
	n := 0
	for _, r := range p {
		if r.Failure != "" {
			n++
		}
	}
	return n
}

// Failure reasons recorded on degraded records.
const (
	FailureNoFace        = "no_face"
	FailureMultipleFaces = "multiple_faces"
	FailureUndecodable   = "undecodable"
	FailureMatcher       = "matcher_error"
)
