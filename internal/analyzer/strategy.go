package analyzer

import (
	"math"
	"sort"
)

// SelectStrategyCandidates filters buckets to those with n ≥ min_n and
// up_ci95_low > global_up_response_rate, scores the survivors, sorts by
// edge_score desc then n desc, and truncates to 50 (spec.md §4.4).
func SelectStrategyCandidates(buckets []Bucket, p Params, globalUpRate float64) []StrategyCandidate {
	var candidates []StrategyCandidate
	for _, b := range buckets {
		if b.N < p.MinN {
			continue
		}
		if b.UpCI95Low <= globalUpRate {
			continue
		}
		candidates = append(candidates, StrategyCandidate{
			Bucket:    b,
			EdgeScore: edgeScore(b),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].EdgeScore != candidates[j].EdgeScore {
			return candidates[i].EdgeScore > candidates[j].EdgeScore
		}
		return candidates[i].N > candidates[j].N
	})

	const maxCandidates = 50
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

func edgeScore(b Bucket) float64 {
	return b.LiftVsGlobal * b.UpResponseRate * b.UpAlignedRate * math.Log10(1+float64(b.N))
}
