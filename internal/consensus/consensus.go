// Package consensus collapses a set of provider responses into a single
// reconciled answer with a confidence score.
package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

const (
	DefaultMinResponses     = 2
	DefaultOutlierThreshold = 0.3

	// sigmaFactor scales the configured threshold into a cut-off on
	// standardized deviations (the 3-sigma rule)
	sigmaFactor = 3.0

	// unknownWeight is assumed for responses whose provider is missing from
	// the weight table
	unknownWeight = 0.5

	// confidenceFloor guards confidence expressions that degenerate on
	// dispersed or zero-centered inputs
	confidenceFloor = 0.1
)

// Engine reconciles responses. One engine serves many concurrent queries; it
// holds no per-query state.
type Engine struct {
	minResponses     int
	outlierThreshold float64
	log              zerolog.Logger
}

// NewEngine builds an engine. Out-of-range arguments take the defaults.
func NewEngine(minResponses int, outlierThreshold float64, log zerolog.Logger) *Engine {
	if minResponses < 1 {
		minResponses = DefaultMinResponses
	}
	if outlierThreshold <= 0 {
		outlierThreshold = DefaultOutlierThreshold
	}
	return &Engine{
		minResponses:     minResponses,
		outlierThreshold: outlierThreshold,
		log:              log.With().Str("component", "consensus").Logger(),
	}
}

// MinResponses reports the configured quorum
func (e *Engine) MinResponses() int { return e.minResponses }

// Reconcile removes outliers, applies the requested method and assembles the
// result. Sources lists the survivors in input order; RawResponses keeps the
// full input. Methods needing numeric values fall back to majority vote on
// non-numeric input, and the result reports the method that actually ran.
func (e *Engine) Reconcile(responses []domain.Response, method domain.ConsensusMethod, weights map[string]float64) (*domain.ConsensusResult, error) {
	switch method {
	case domain.MethodMedian, domain.MethodWeightedAverage,
		domain.MethodMajorityVote, domain.MethodConfidenceWeighted:
	default:
		return nil, domain.NewQueryError(domain.FailUnsupportedMethod,
			"consensus method %q not implemented", method)
	}

	if len(responses) < e.minResponses {
		return nil, domain.NewQueryError(domain.FailInsufficientResponses,
			"need %d responses, have %d", e.minResponses, len(responses)).
			WithResponses(responses)
	}

	survivors := e.removeOutliers(responses)
	if len(survivors) < e.minResponses {
		// the filter protects consensus, it must not starve the quorum
		e.log.Debug().
			Int("survivors", len(survivors)).
			Int("responses", len(responses)).
			Msg("outlier removal reverted, would drop below quorum")
		survivors = responses
	}

	result := &domain.ConsensusResult{
		Method:       method,
		Sources:      sourceNames(survivors),
		RawResponses: responses,
		Timestamp:    time.Now().UTC(),
	}

	if len(survivors) == 1 {
		// a lone response passes through untouched
		result.Value = survivors[0].Value
		result.Confidence = survivors[0].Confidence
		return result, nil
	}

	value, confidence, applied := e.aggregate(survivors, method, weights)
	result.Value = value
	result.Confidence = confidence
	result.Method = applied
	return result, nil
}

// aggregate dispatches on the method, falling back to majority vote when a
// numeric method has nothing numeric to chew on
func (e *Engine) aggregate(survivors []domain.Response, method domain.ConsensusMethod, weights map[string]float64) (domain.Value, float64, domain.ConsensusMethod) {
	numeric := numericResponses(survivors)

	switch method {
	case domain.MethodMedian:
		if len(numeric) > 0 {
			value, confidence := median(numeric)
			return value, confidence, method
		}
	case domain.MethodWeightedAverage:
		if len(numeric) > 0 {
			value, confidence := weightedMean(numeric, func(r domain.Response) float64 {
				return providerWeight(weights, r.Source)
			})
			return value, confidence, method
		}
	case domain.MethodConfidenceWeighted:
		if len(numeric) > 0 && totalConfidence(numeric) > 0 {
			value, confidence := weightedMean(numeric, func(r domain.Response) float64 {
				return r.Confidence
			})
			return value, confidence, method
		}
	}

	value, confidence := majorityVote(survivors, weights)
	return value, confidence, domain.MethodMajorityVote
}

// removeOutliers drops numeric responses farther than
// sigmaFactor·threshold·stdDev from the numeric mean. Non-numeric responses
// are never touched. Fewer than three numeric samples: no removal.
func (e *Engine) removeOutliers(responses []domain.Response) []domain.Response {
	var nums []float64
	for _, r := range responses {
		if n, ok := r.Value.Number(); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) < 3 {
		return responses
	}

	mean, stdDev := meanStdDev(nums)
	if stdDev == 0 {
		return responses
	}
	cut := sigmaFactor * e.outlierThreshold * stdDev

	survivors := make([]domain.Response, 0, len(responses))
	for _, r := range responses {
		if n, ok := r.Value.Number(); ok && math.Abs(n-mean) > cut {
			e.log.Debug().
				Str("source", r.Source).
				Float64("value", n).
				Float64("mean", mean).
				Float64("cut", cut).
				Msg("outlier removed")
			continue
		}
		survivors = append(survivors, r)
	}
	return survivors
}

// median returns the statistical median of the numeric values. Confidence is
// 1 minus the mean absolute deviation relative to the median, floored at 0.1.
func median(numeric []domain.Response) (domain.Value, float64) {
	values := make([]float64, len(numeric))
	for i, r := range numeric {
		values[i], _ = r.Value.Number()
	}
	sort.Float64s(values)

	mid := len(values) / 2
	m := values[mid]
	if len(values)%2 == 0 {
		m = (values[mid-1] + values[mid]) / 2
	}

	var dev float64
	for _, v := range values {
		dev += math.Abs(v - m)
	}
	dev /= float64(len(values))

	confidence := confidenceFloor
	if m != 0 {
		if c := 1 - dev/math.Abs(m); c > confidence {
			confidence = c
		}
	}
	return domain.NumberValue(m), confidence
}

// weightedMean averages values and confidences under the given weights.
// Callers guarantee a positive weight sum.
func weightedMean(numeric []domain.Response, weightOf func(domain.Response) float64) (domain.Value, float64) {
	var sumW, sumV, sumC float64
	for _, r := range numeric {
		w := weightOf(r)
		v, _ := r.Value.Number()
		sumW += w
		sumV += v * w
		sumC += r.Confidence * w
	}
	return domain.NumberValue(sumV / sumW), sumC / sumW
}

// majorityVote groups responses by canonical value serialization. The largest
// group wins; ties break by summed provider weight, then first appearance.
// Confidence is the winner share of the input.
func majorityVote(survivors []domain.Response, weights map[string]float64) (domain.Value, float64) {
	type voteGroup struct {
		value     domain.Value
		count     int
		weightSum float64
		firstSeen int
	}

	groups := make(map[string]*voteGroup)
	for i, r := range survivors {
		key := r.Value.Canonical()
		g, ok := groups[key]
		if !ok {
			g = &voteGroup{value: r.Value, firstSeen: i}
			groups[key] = g
		}
		g.count++
		g.weightSum += providerWeight(weights, r.Source)
	}

	var winner *voteGroup
	for _, g := range groups {
		if winner == nil {
			winner = g
			continue
		}
		switch {
		case g.count != winner.count:
			if g.count > winner.count {
				winner = g
			}
		case g.weightSum != winner.weightSum:
			if g.weightSum > winner.weightSum {
				winner = g
			}
		case g.firstSeen < winner.firstSeen:
			winner = g
		}
	}

	return winner.value, float64(winner.count) / float64(len(survivors))
}

func numericResponses(responses []domain.Response) []domain.Response {
	var numeric []domain.Response
	for _, r := range responses {
		if r.Value.IsNumeric() {
			numeric = append(numeric, r)
		}
	}
	return numeric
}

func totalConfidence(responses []domain.Response) float64 {
	var total float64
	for _, r := range responses {
		total += r.Confidence
	}
	return total
}

func providerWeight(weights map[string]float64, source string) float64 {
	if w, ok := weights[source]; ok && w > 0 {
		return w
	}
	return unknownWeight
}

func sourceNames(responses []domain.Response) []string {
	names := make([]string, len(responses))
	for i, r := range responses {
		names[i] = r.Source
	}
	return names
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
