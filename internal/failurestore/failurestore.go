package failurestore

import (
	"math"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
)

// Record is a FailureRecord (spec.md §3).
type Record struct {
	SignatureHash       string       `bson:"signature_hash" json:"signature_hash"`
	InputDigest         string       `bson:"input_digest" json:"input_digest"`
	Tool                string       `bson:"tool" json:"tool"`
	ErrorKind           errkind.Kind `bson:"error_kind" json:"error_kind"`
	FirstSeen           time.Time    `bson:"first_seen" json:"first_seen"`
	LastSeen            time.Time    `bson:"last_seen" json:"last_seen"`
	Occurrences         int          `bson:"occurrences" json:"occurrences"`
	SuggestedRemedy     string       `bson:"suggested_remedy,omitempty" json:"suggested_remedy,omitempty"`
	RemedySuccessCount  int          `bson:"remedy_success_count" json:"remedy_success_count"`
	RemedyAttemptCount  int          `bson:"remedy_attempt_count" json:"remedy_attempt_count"`
	// OccurrencesLast30d is incremented together with Occurrences and is
	// never decayed; successProbability does not read it.
	OccurrencesLast30d int `bson:"occurrences_last_30d" json:"occurrences_last_30d"`
}

const thirtyDays = 30 * 24 * time.Hour

// successProbability computes spec.md §4.3's formula exactly:
//
//	base=0.95; penalty = 0.15*min(4, occurrences_in_last_30d)
//	prob = max(0.05, base - penalty)
//	if remedy_success_count/remedy_attempt_count >= 0.5, prob *= 1.2 (capped at 0.95)
//
// occurrences_in_last_30d is the sum of Occurrences over the records whose
// LastSeen lies within the last 30 days.
func successProbability(records []Record, now time.Time) float64 {
	occurrences30d := 0
	var bestRemedyRatio float64
	for _, r := range records {
		if now.Sub(r.LastSeen) <= thirtyDays {
			occurrences30d += r.Occurrences
		}
		if r.RemedyAttemptCount > 0 {
			ratio := float64(r.RemedySuccessCount) / float64(r.RemedyAttemptCount)
			if ratio > bestRemedyRatio {
				bestRemedyRatio = ratio
			}
		}
	}

	penalty := 0.15 * math.Min(4, float64(occurrences30d))
	prob := math.Max(0.05, 0.95-penalty)
	if bestRemedyRatio >= 0.5 {
		prob = math.Min(0.95, prob*1.2)
	}
	return prob
}
