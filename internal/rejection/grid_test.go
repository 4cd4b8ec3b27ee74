package rejection

import (
	"context"
	"testing"

	"megstats/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func cleanEpoch() *mat.Dense {
	return mat.NewDense(2, 3, []float64{0, 1, 0, 0, 0, 0})
}

func artifactEpoch() *mat.Dense {
	e := cleanEpoch()
	e.Set(1, 1, 100)
	return e
}

// 15 epochs in 5 folds of 3, with one artifact in folds 0 and 2
func epochsWithArtifacts() []*mat.Dense {
	var epochs []*mat.Dense
	for i := 0; i < 15; i++ {
		if i == 1 || i == 7 {
			epochs = append(epochs, artifactEpoch())
		} else {
			epochs = append(epochs, cleanEpoch())
		}
	}
	return epochs
}

func TestPeakToPeak(t *testing.T) {
	e := mat.NewDense(2, 2, []float64{0, 3, 1, -4})
	assert.Equal(t, 5.0, PeakToPeak(e))
	assert.Equal(t, 100.0, PeakToPeak(artifactEpoch()))
}

func TestFolds(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}, {5, 6}}, Folds(7, 3))
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, Folds(4, 2))
}

func TestScore(t *testing.T) {
	train := []*mat.Dense{cleanEpoch(), artifactEpoch()}
	test := []*mat.Dense{cleanEpoch(), cleanEpoch(), artifactEpoch()}

	score, kept := Score(train, test, 0.5)
	assert.Equal(t, Infeasible, score)
	assert.Zero(t, kept)

	score, kept = Score(train, test, 2)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 1, kept)

	// the kept mean is off by 50 at one of six elements
	score, kept = Score(train, test, 1000)
	assert.InDelta(t, 50/2.449489742783178, score, 1e-9)
	assert.Equal(t, 2, kept)
}

func TestGridSearch_PicksThresholdThatDropsArtifacts(t *testing.T) {
	res, err := GridSearch(context.Background(), epochsWithArtifacts(), Config{
		Thresholds: []float64{500, 0.5, 2},
		Folds:      5,
	})
	require.NoError(t, err)

	assert.Equal(t, 2.0, res.Best)
	assert.Equal(t, 0.0, res.BestScore)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, 0.5, res.Candidates[0].Threshold)
	assert.False(t, res.Candidates[0].Feasible())
	assert.True(t, res.Candidates[1].Feasible())
	assert.Greater(t, res.Candidates[2].Score, 0.0)
}

func TestGridSearch_AllInfeasible(t *testing.T) {
	res, err := GridSearch(context.Background(), epochsWithArtifacts(), Config{
		Thresholds: []float64{0.1, 0.5},
		Folds:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, Infeasible, res.Best)
	assert.Equal(t, Infeasible, res.BestScore)
	for _, c := range res.Candidates {
		assert.False(t, c.Feasible())
	}
}

func TestGridSearch_WorkersDoNotChangeResult(t *testing.T) {
	cfg := Config{Thresholds: []float64{0.5, 2, 50, 500}, Folds: 3}
	one, err := GridSearch(context.Background(), epochsWithArtifacts(), cfg)
	require.NoError(t, err)

	cfg.Workers = 4
	four, err := GridSearch(context.Background(), epochsWithArtifacts(), cfg)
	require.NoError(t, err)
	assert.Equal(t, one, four)
}

func TestGridSearch_Errors(t *testing.T) {
	ctx := context.Background()
	epochs := epochsWithArtifacts()

	_, err := GridSearch(ctx, epochs, Config{})
	assert.Error(t, err)

	_, err = GridSearch(ctx, epochs, Config{Thresholds: []float64{1}, Folds: 1})
	assert.Error(t, err)

	_, err = GridSearch(ctx, epochs[:3], Config{Thresholds: []float64{1}, Folds: 5})
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	bad := append([]*mat.Dense{mat.NewDense(3, 3, nil)}, epochs...)
	_, err = GridSearch(ctx, bad, Config{Thresholds: []float64{1}})
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}
