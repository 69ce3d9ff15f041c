package consensus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoquery/oracle/internal/domain"
)

func numResp(source string, value, confidence float64) domain.Response {
	return domain.Response{
		Value:      domain.NumberValue(value),
		Confidence: confidence,
		Source:     source,
	}
}

func textResp(source, value string, confidence float64) domain.Response {
	return domain.Response{
		Value:      domain.TextValue(value),
		Confidence: confidence,
		Source:     source,
	}
}

func newTestEngine(minResponses int) *Engine {
	return NewEngine(minResponses, DefaultOutlierThreshold, zerolog.Nop())
}

func TestMedianOfThreePrices(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("chainlink", 42000, 0.9),
		numResp("coingecko", 42100, 0.9),
		numResp("dia", 42200, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, ok := result.Value.Number()
	require.True(t, ok)
	assert.Equal(t, 42100.0, n)
	assert.Equal(t, domain.MethodMedian, result.Method)
	assert.Len(t, result.Sources, 3)
	assert.Len(t, result.RawResponses, 3)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
}

func TestMedianEvenCount(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42100, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42050.0, n)
}

func TestOutlierRejected(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42100, 0.9),
		numResp("c", 100000, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42050.0, n)
	assert.Equal(t, []string{"a", "b"}, result.Sources)
	assert.Len(t, result.RawResponses, 3, "raw responses keep the outlier")
}

func TestOutlierRemovalSkippedBelowThreeNumerics(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 100000, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 71000.0, n, "two samples are never filtered")
	assert.Len(t, result.Sources, 2)
}

func TestOutlierRemovalNeverStarvesQuorum(t *testing.T) {
	engine := newTestEngine(2)

	// evenly spaced triples put both endpoints past the default cut; the
	// filter must step aside rather than leave a single survivor
	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42050, 0.9),
		numResp("c", 42100, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42050.0, n)
	assert.Len(t, result.Sources, 3)
}

func TestOutlierRemovalKeepsNonNumerics(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42100, 0.9),
		numResp("c", 100000, 0.9),
		textResp("d", "sunny", 0.8),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42050.0, n)
	assert.Equal(t, []string{"a", "b", "d"}, result.Sources, "non-numeric responses are never filtered")
}

func TestWeightedAverage(t *testing.T) {
	engine := newTestEngine(2)

	weights := map[string]float64{"a": 0.7, "b": 0.8, "c": 0.9}
	responses := []domain.Response{
		numResp("a", 40000, 0.9),
		numResp("b", 42000, 0.9),
		numResp("c", 44000, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodWeightedAverage, weights)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.InDelta(t, 42166.67, n, 0.01)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.Equal(t, domain.MethodWeightedAverage, result.Method)
}

func TestWeightedAverageUnknownProviderWeight(t *testing.T) {
	engine := newTestEngine(2)

	weights := map[string]float64{"a": 0.9}
	responses := []domain.Response{
		numResp("a", 10, 0.8),
		numResp("unknown", 20, 0.6),
	}

	result, err := engine.Reconcile(responses, domain.MethodWeightedAverage, weights)
	require.NoError(t, err)

	// unknown providers vote with weight 0.5
	n, _ := result.Value.Number()
	assert.InDelta(t, (10*0.9+20*0.5)/1.4, n, 1e-9)
	assert.InDelta(t, (0.8*0.9+0.6*0.5)/1.4, result.Confidence, 1e-9)
}

func TestConfidenceWeighted(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 10, 0.9),
		numResp("b", 20, 0.1),
	}

	result, err := engine.Reconcile(responses, domain.MethodConfidenceWeighted, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.InDelta(t, 11.0, n, 1e-9)
	assert.InDelta(t, 0.82, result.Confidence, 1e-9)
	assert.Equal(t, domain.MethodConfidenceWeighted, result.Method)
}

func TestConfidenceWeightedAllZeroFallsBack(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 10, 0),
		numResp("b", 20, 0),
	}

	result, err := engine.Reconcile(responses, domain.MethodConfidenceWeighted, nil)
	require.NoError(t, err)

	// zero total confidence cannot weight anything; majority vote decides
	assert.Equal(t, domain.MethodMajorityVote, result.Method)
	n, _ := result.Value.Number()
	assert.Equal(t, 10.0, n)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestMajorityVoteOnStrings(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		textResp("a", "sunny", 0.8),
		textResp("b", "sunny", 0.8),
		textResp("c", "cloudy", 0.8),
	}

	// requested median, but nothing numeric: majority vote runs instead
	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	text, ok := result.Value.Text()
	require.True(t, ok)
	assert.Equal(t, "sunny", text)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
	assert.Equal(t, domain.MethodMajorityVote, result.Method)
}

func TestMajorityVoteNumericGroups(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42000, 0.9),
		numResp("c", 42100, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMajorityVote, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42000.0, n)
}

func TestMajorityVoteTieBreakByWeight(t *testing.T) {
	engine := newTestEngine(2)

	weights := map[string]float64{"a": 0.6, "b": 0.6, "c": 0.9, "d": 0.9}
	responses := []domain.Response{
		textResp("a", "sunny", 0.8),
		textResp("b", "sunny", 0.8),
		textResp("c", "cloudy", 0.8),
		textResp("d", "cloudy", 0.8),
	}

	result, err := engine.Reconcile(responses, domain.MethodMajorityVote, weights)
	require.NoError(t, err)

	text, _ := result.Value.Text()
	assert.Equal(t, "cloudy", text, "equal counts resolve by summed provider weight")
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestMajorityVoteTieBreakByFirstAppearance(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		textResp("a", "x", 0.8),
		textResp("b", "y", 0.8),
	}

	result, err := engine.Reconcile(responses, domain.MethodMajorityVote, nil)
	require.NoError(t, err)

	text, _ := result.Value.Text()
	assert.Equal(t, "x", text, "full tie resolves to the earliest group")
}

func TestOrderIndependence(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42100, 0.8),
		numResp("c", 100000, 0.7),
	}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, method := range []domain.ConsensusMethod{
		domain.MethodMedian, domain.MethodWeightedAverage, domain.MethodConfidenceWeighted,
	} {
		baseline, err := engine.Reconcile(responses, method, nil)
		require.NoError(t, err)

		for _, perm := range permutations {
			shuffled := make([]domain.Response, len(responses))
			for i, j := range perm {
				shuffled[i] = responses[j]
			}
			result, err := engine.Reconcile(shuffled, method, nil)
			require.NoError(t, err)
			assert.Equal(t, baseline.Value.Canonical(), result.Value.Canonical(),
				"method %s not order independent", method)
			assert.InDelta(t, baseline.Confidence, result.Confidence, 1e-9)
		}
	}
}

func TestInsufficientResponses(t *testing.T) {
	engine := newTestEngine(2)

	_, err := engine.Reconcile(nil, domain.MethodMedian, nil)
	require.Error(t, err)
	assert.True(t, domain.IsFailure(err, domain.FailInsufficientResponses))

	responses := []domain.Response{numResp("a", 42000, 0.9)}
	_, err = engine.Reconcile(responses, domain.MethodMedian, nil)
	require.Error(t, err)
	assert.True(t, domain.IsFailure(err, domain.FailInsufficientResponses))

	var qe *domain.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Len(t, qe.RawResponses, 1, "raw responses ride along for diagnostics")
}

func TestSingleResponseVerbatim(t *testing.T) {
	engine := newTestEngine(1)

	responses := []domain.Response{numResp("a", 42000, 0.77)}
	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42000.0, n)
	assert.Equal(t, 0.77, result.Confidence, "a lone response keeps its own confidence")
	assert.Equal(t, []string{"a"}, result.Sources)
}

func TestUnsupportedMethod(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 1, 0.9),
		numResp("b", 2, 0.9),
	}
	_, err := engine.Reconcile(responses, domain.ConsensusMethod("average"), nil)
	require.Error(t, err)
	assert.True(t, domain.IsFailure(err, domain.FailUnsupportedMethod))
}

func TestMedianConfidenceFloor(t *testing.T) {
	engine := newTestEngine(2)

	// dispersion swamps the median: the floor holds
	responses := []domain.Response{
		numResp("a", 1, 0.9),
		numResp("b", 999, 0.9),
	}
	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)
	assert.Equal(t, confidenceFloor, result.Confidence)

	// zero median would divide by zero: the floor holds
	responses = []domain.Response{
		numResp("a", -5, 0.9),
		numResp("b", 5, 0.9),
	}
	result, err = engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)
	assert.Equal(t, confidenceFloor, result.Confidence)
}

func TestIdenticalValuesNoFilter(t *testing.T) {
	engine := newTestEngine(2)

	responses := []domain.Response{
		numResp("a", 42000, 0.9),
		numResp("b", 42000, 0.9),
		numResp("c", 42000, 0.9),
	}

	result, err := engine.Reconcile(responses, domain.MethodMedian, nil)
	require.NoError(t, err)

	n, _ := result.Value.Number()
	assert.Equal(t, 42000.0, n)
	assert.Len(t, result.Sources, 3, "zero dispersion filters nothing")
	assert.Equal(t, 1.0, result.Confidence)
}

func TestNewEngineDefaults(t *testing.T) {
	engine := NewEngine(0, -1, zerolog.Nop())
	assert.Equal(t, DefaultMinResponses, engine.MinResponses())
	assert.Equal(t, DefaultOutlierThreshold, engine.outlierThreshold)
}
