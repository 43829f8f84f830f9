package analyzer

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeBuckets groups events by (delta_bucket, spike_bucket,
// remaining_bucket) and computes the per-bucket statistics of spec.md
// §4.4. Buckets with n == 0 never appear (they simply have no events to
// group). globalUpRate/globalDownRate must be computed over the same
// event set beforehand (GlobalResponseRates).
func ComputeBuckets(events []Event, p Params, globalUpRate, globalDownRate float64) []Bucket {
	grouped := make(map[string][]Event)
	order := make([]string, 0)
	for _, e := range events {
		key := e.BucketKey()
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], e)
	}

	buckets := make([]Bucket, 0, len(order))
	for _, key := range order {
		buckets = append(buckets, computeBucket(key, grouped[key], p, globalUpRate, globalDownRate))
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

// GlobalResponseRates computes the global up/down response rate over an
// event set — the fraction of events whose corresponding lag is
// non-null.
func GlobalResponseRates(events []Event) (upRate, downRate float64) {
	if len(events) == 0 {
		return 0, 0
	}
	var upResponses, downResponses int
	for _, e := range events {
		if e.UpMoved {
			upResponses++
		}
		if e.DownMoved {
			downResponses++
		}
	}
	n := float64(len(events))
	return float64(upResponses) / n, float64(downResponses) / n
}

func computeBucket(key string, events []Event, p Params, globalUpRate, globalDownRate float64) Bucket {
	n := len(events)
	b := Bucket{
		Key:             key,
		DeltaBucket:     events[0].DeltaBucket,
		SpikeBucket:     events[0].SpikeBucket,
		RemainingBucket: events[0].RemainingBucket,
		N:               n,
	}

	var upResponses, downResponses, upAligned, downAligned int
	upLags := make([]float64, 0, n)
	downLags := make([]float64, 0, n)
	upMoves := make([]float64, 0, n)
	downMoves := make([]float64, 0, n)

	for _, e := range events {
		if e.UpMoved {
			upResponses++
			upLags = append(upLags, float64(e.UpLagMs))
			upMoves = append(upMoves, moveFloat(e.UpMove))
			if e.UpAligned {
				upAligned++
			}
		}
		if e.DownMoved {
			downResponses++
			downLags = append(downLags, float64(e.DownLagMs))
			downMoves = append(downMoves, moveFloat(e.DownMove))
			if e.DownAligned {
				downAligned++
			}
		}
	}

	b.UpResponseRate = float64(upResponses) / float64(n)
	b.DownResponseRate = float64(downResponses) / float64(n)
	b.UpCI95Low, b.UpCI95High = WilsonInterval(upResponses, n, WilsonZ95)
	b.DownCI95Low, b.DownCI95High = WilsonInterval(downResponses, n, WilsonZ95)

	if upResponses > 0 {
		b.UpAlignedRate = float64(upAligned) / float64(upResponses)
		b.UpMedianLagMs = median(upLags)
		b.UpMedianMove = median(upMoves)
	}
	if downResponses > 0 {
		b.DownAlignedRate = float64(downAligned) / float64(downResponses)
		b.DownMedianLagMs = median(downLags)
		b.DownMedianMove = median(downMoves)
	}

	b.LiftVsGlobal = b.UpResponseRate - globalUpRate
	_ = globalDownRate // down has no symmetric lift field per spec.md §4.4 (asymmetric by design, §9)

	if p.OrderP95Ms > 0 {
		b.HasFeasibility = true
		b.FeasibleForOrderLatency = b.UpMedianLagMs > float64((p.OrderP95Ms + p.SafetyMs).Milliseconds())
	}

	return b
}

func moveFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
