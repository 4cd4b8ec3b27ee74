package app

import (
	"context"
	"testing"

	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/internal"
	"megstats/internal/naming"
	"megstats/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// MockObservationReader records every read
type MockObservationReader struct {
	mock.Mock
}

func (m *MockObservationReader) ReadObservation(ctx context.Context, subject core.SubjectID, tp core.Timepoint, condition core.Condition) (*observation.Observation, error) {
	args := m.Called(ctx, subject, tp, condition)
	if obs := args.Get(0); obs != nil {
		return obs.(*observation.Observation), args.Error(1)
	}
	return nil, args.Error(1)
}

func newKitAssembler(t *testing.T, exclude ...core.Condition) (*testkit.TestKit, *ContrastAssembler) {
	t.Helper()
	cfg := testkit.DefaultSubjectConfig()
	kit := testkit.NewTestKit(cfg)
	a := NewContrastAssembler(kit.Generator.Study(), kit.Observations, cfg.Conditions, exclude, internal.Nop())
	return kit, a
}

func TestContrastAssembler_Contrasts(t *testing.T) {
	_, a := newKitAssembler(t)
	assert.Equal(t, []core.Condition{"language-letter", "language-noise", "letter-noise"}, a.Contrasts())

	_, a = newKitAssembler(t, "noise")
	assert.Equal(t, []core.Condition{"language-letter"}, a.Contrasts())
	assert.Equal(t, []core.Condition{"language", "letter", "noise", "language-letter"}, a.Names())
}

func TestContrastAssembler_Policy(t *testing.T) {
	_, a := newKitAssembler(t)

	tests := []struct {
		group core.GroupName
		tp    core.Timepoint
		want  bool
	}{
		{"LowKnowledge", core.TimepointPre, true},
		{"LowKnowledge", core.TimepointPost, false},
		{"HighKnowledge", core.TimepointPostMinusPre, false},
		{"LetterIntervention", core.TimepointPostMinusPre, true},
		{"LetterIntervention", core.TimepointPre, false},
		{"LanguageIntervention", core.TimepointPost, false},
		{core.GrandAverage, core.TimepointPre, true},
		{core.GrandAverage, core.TimepointPost, true},
		{core.GrandAverage, core.TimepointPostMinusPre, true},
	}
	for _, tt := range tests {
		got, err := a.Allowed(tt.group, tt.tp)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.group, tt.tp)
	}

	_, err := a.Allowed("Nobody", core.TimepointPre)
	assert.ErrorIs(t, err, core.ErrUnknownCohort)
}

func TestContrastAssembler_KnowledgePostIsSkipped(t *testing.T) {
	kit, a := newKitAssembler(t)
	ctx := context.Background()

	asm, err := a.Assemble(ctx, []GroupRequest{{Group: "LowKnowledge", Timepoint: core.TimepointPost, Name: "letter"}})
	require.NoError(t, err)
	assert.Zero(t, asm.Len())
	assert.Zero(t, kit.Observations.Reads())

	stack, err := a.SubjectStack(ctx, "LowKnowledge", core.TimepointPost, "letter")
	require.NoError(t, err)
	assert.Nil(t, stack)
}

func TestContrastAssembler_AssembleAll(t *testing.T) {
	_, a := newKitAssembler(t)

	asm, err := a.AssembleAll(context.Background())
	require.NoError(t, err)

	// GrandAvg at 3 timepoints, 2 Intervention cohorts at post-pre and 2
	// Knowledge cohorts at pre, each with 3 conditions and 3 contrasts.
	assert.Equal(t, 7*6, asm.Len())
	assert.Len(t, asm[core.GrandAverage], 3)
	assert.Contains(t, asm["LowKnowledge"], core.TimepointPre)
	assert.NotContains(t, asm["LowKnowledge"], core.TimepointPostMinusPre)
	assert.Contains(t, asm["LetterIntervention"][core.TimepointPostMinusPre], core.Condition("language-letter"))

	obs := asm["LetterIntervention"][core.TimepointPostMinusPre]["language-letter"]
	assert.Equal(t, core.GroupName("LetterIntervention"), obs.Group)
}

func TestContrastAssembler_GroupMeanMatchesSubjects(t *testing.T) {
	kit, a := newKitAssembler(t)
	ctx := context.Background()

	got, err := a.Average(ctx, GroupRequest{Group: core.GrandAverage, Timepoint: core.TimepointPostMinusPre, Name: "language-letter"})
	require.NoError(t, err)

	var manual []*observation.Observation
	for _, s := range kit.Generator.SubjectIDs() {
		read := func(tp core.Timepoint, c core.Condition) *observation.Observation {
			o, err := kit.Observations.ReadObservation(ctx, s, tp, c)
			require.NoError(t, err)
			return o
		}
		postDiff, err := observation.Subtract(read(core.TimepointPost, "language"), read(core.TimepointPost, "letter"))
		require.NoError(t, err)
		preDiff, err := observation.Subtract(read(core.TimepointPre, "language"), read(core.TimepointPre, "letter"))
		require.NoError(t, err)
		d, err := observation.Subtract(postDiff, preDiff)
		require.NoError(t, err)
		manual = append(manual, d)
	}
	want, err := observation.Average(core.GrandAverage, manual)
	require.NoError(t, err)

	assert.True(t, mat.EqualApprox(want.Data, got.Data, 1e-12))
	assert.Equal(t, core.TimepointPostMinusPre, got.Timepoint)
	assert.Equal(t, core.Condition("language-letter"), got.Condition)
}

func TestContrastAssembler_Antisymmetry(t *testing.T) {
	kit, a := newKitAssembler(t)
	ctx := context.Background()

	ab, err := a.SubjectObservation(ctx, "s03", core.TimepointPre, "language-letter")
	require.NoError(t, err)

	language, err := kit.Observations.ReadObservation(ctx, "s03", core.TimepointPre, "language")
	require.NoError(t, err)
	letter, err := kit.Observations.ReadObservation(ctx, "s03", core.TimepointPre, "letter")
	require.NoError(t, err)
	ba, err := observation.Subtract(letter, language)
	require.NoError(t, err)

	assert.True(t, mat.Equal(ab.Data, observation.Negate(ba).Data))
}

func TestContrastAssembler_MissingObservationIsFatal(t *testing.T) {
	kit, a := newKitAssembler(t)
	kit.Observations.Delete("s05", core.TimepointPost, "letter")

	asm, err := a.Assemble(context.Background(), []GroupRequest{
		{Group: core.GrandAverage, Timepoint: core.TimepointPre, Name: "letter"},
		{Group: core.GrandAverage, Timepoint: core.TimepointPostMinusPre, Name: "letter"},
	})
	assert.ErrorIs(t, err, core.ErrObservationMissing)
	assert.Nil(t, asm)
}

func TestContrastAssembler_UnknownName(t *testing.T) {
	_, a := newKitAssembler(t, "noise")
	_, err := a.Average(context.Background(), GroupRequest{Group: core.GrandAverage, Timepoint: core.TimepointPre, Name: "letter-noise"})
	assert.Error(t, err)
}

func TestContrastAssembler_StreamsCohortMembers(t *testing.T) {
	cfg := testkit.DefaultSubjectConfig()
	gen := testkit.NewSubjectGenerator(cfg)
	study := gen.Study()
	reader := new(MockObservationReader)

	members := []core.SubjectID{"s01", "s02", "s03", "s04"}
	for i, s := range members {
		data := mat.NewDense(2, 3, []float64{float64(i), 0, 0, 0, 0, 0})
		reader.On("ReadObservation", mock.Anything, s, core.TimepointPre, core.Condition("letter")).
			Return(observation.New(s, core.TimepointPre, "letter", 0, 0.01, data), nil).Once()
	}

	a := NewContrastAssembler(study, reader, cfg.Conditions, nil, internal.Nop())
	mean, err := a.Average(context.Background(), GroupRequest{Group: "LowKnowledge", Timepoint: core.TimepointPre, Name: "letter"})
	require.NoError(t, err)

	assert.InDelta(t, 1.5, mean.Data.At(0, 0), 1e-12)
	reader.AssertExpectations(t)
}

func TestContrastAssembler_WriteAssembly(t *testing.T) {
	kit, a := newKitAssembler(t, "noise")
	ctx := context.Background()

	reqs := []GroupRequest{
		{Group: "HighKnowledge", Timepoint: core.TimepointPre, Name: "letter"},
		{Group: core.GrandAverage, Timepoint: core.TimepointPostMinusPre, Name: "language-letter"},
	}
	asm, err := a.Assemble(ctx, reqs)
	require.NoError(t, err)

	layout := naming.Layout{Root: "/data", Output: "/out", Method: "dSPM"}
	paths, err := a.WriteAssembly(ctx, kit.Observations, layout, asm)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		layout.GroupPath(core.GrandAverage, 8, core.TimepointPostMinusPre, "language-letter"),
		layout.GroupPath("HighKnowledge", 4, core.TimepointPre, "letter"),
	}, paths)
	assert.ElementsMatch(t, paths, kit.Observations.Written())
}
