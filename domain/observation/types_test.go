package observation

import (
	"math/rand"
	"testing"

	"megstats/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomObs(rng *rand.Rand, subject string, cond core.Condition, rows, cols int) *Observation {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return New(core.SubjectID(subject), core.TimepointPre, cond, -0.1, 0.01, mat.NewDense(rows, cols, data))
}

func TestSubtract_Antisymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomObs(rng, "s1", "letter", 5, 12)
	b := randomObs(rng, "s1", "language", 5, 12)

	ab, err := Subtract(a, b)
	require.NoError(t, err)
	ba, err := Subtract(b, a)
	require.NoError(t, err)

	assert.Equal(t, core.Condition("letter-language"), ab.Condition)
	assert.Equal(t, core.Condition("language-letter"), ba.Condition)
	assert.True(t, mat.Equal(ab.Data, Negate(ba).Data))
}

func TestSubtract_TimepointContrast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	post := randomObs(rng, "s1", "letter", 3, 4)
	post.Timepoint = core.TimepointPost
	pre := randomObs(rng, "s1", "letter", 3, 4)

	diff, err := Subtract(post, pre)
	require.NoError(t, err)
	assert.Equal(t, core.TimepointPostMinusPre, diff.Timepoint)
	assert.Equal(t, core.Condition("letter"), diff.Condition)
}

func TestSubtract_ShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := Subtract(randomObs(rng, "s1", "a", 3, 4), randomObs(rng, "s1", "b", 3, 5))
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestAverage_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var obs []*Observation
	for _, s := range []string{"s1", "s2", "s3", "s4", "s5"} {
		obs = append(obs, randomObs(rng, s, "letter", 8, 20))
	}

	first, err := Average("Letter", obs)
	require.NoError(t, err)
	second, err := Average("Letter", obs)
	require.NoError(t, err)
	assert.True(t, mat.Equal(first.Data, second.Data))

	reversed := make([]*Observation, len(obs))
	for i := range obs {
		reversed[len(obs)-1-i] = obs[i]
	}
	third, err := Average("Letter", reversed)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(first.Data, third.Data, 1e-12))
	assert.Equal(t, core.GroupName("Letter"), third.Group)
}

func TestAccumulator_Errors(t *testing.T) {
	acc := NewAccumulator("Empty", core.TimepointPre, "letter")
	_, err := acc.Mean()
	assert.ErrorIs(t, err, core.ErrEmptyGroup)

	rng := rand.New(rand.NewSource(5))
	require.NoError(t, acc.Add(randomObs(rng, "s1", "letter", 4, 4)))
	assert.ErrorIs(t, acc.Add(randomObs(rng, "s2", "letter", 4, 5)), core.ErrShapeMismatch)
	assert.ErrorIs(t, acc.Add(randomObs(rng, "s1", "letter", 4, 4)), core.ErrCohortOverlap)
	assert.Equal(t, 1, acc.Len())

	_, err = Average("None", nil)
	assert.ErrorIs(t, err, core.ErrEmptyGroup)
}

func TestAccumulator_MeanValues(t *testing.T) {
	acc := NewAccumulator("G", core.TimepointPre, "c")
	require.NoError(t, acc.Add(New("s2", core.TimepointPre, "c", 0, 1, mat.NewDense(1, 2, []float64{1, 3}))))
	require.NoError(t, acc.Add(New("s1", core.TimepointPre, "c", 0, 1, mat.NewDense(1, 2, []float64{3, 5}))))

	mean, err := acc.Mean()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, mean.Data.RawRowView(0))
	assert.Equal(t, []core.SubjectID{"s1", "s2"}, acc.Subjects())
}

func TestVertexMeanAndTimes(t *testing.T) {
	o := New("s1", core.TimepointPre, "c", -0.1, 0.05, mat.NewDense(3, 3, []float64{
		1, 2, 3,
		3, 4, 5,
		100, 100, 100,
	}))

	series, err := o.VertexMean([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, series)

	_, err = o.VertexMean([]int{3})
	assert.ErrorIs(t, err, core.ErrShapeMismatch)

	assert.InDeltaSlice(t, []float64{-0.1, -0.05, 0}, o.Times(), 1e-12)

	tv := o.TimeByVertex()
	r, c := tv.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 100.0, tv.At(1, 2))
}
