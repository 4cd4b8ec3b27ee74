package testkit

import (
	"fmt"
	"math/rand"

	"megstats/domain/cohort"
	"megstats/domain/core"
	"megstats/domain/observation"

	"gonum.org/v1/gonum/mat"
)

// Effect adds Shift to one vertex of one condition at one recorded
// timepoint, for every subject in Subjects (all subjects when empty).
type Effect struct {
	Condition core.Condition
	Timepoint core.Timepoint
	Vertex    int
	Shift     float64
	Subjects  []core.SubjectID
}

// SubjectGeneratorConfig configures synthetic per-subject recordings
type SubjectGeneratorConfig struct {
	Subjects   int              `json:"subjects"`
	Vertices   int              `json:"vertices"`
	Samples    int              `json:"samples"`
	Conditions []core.Condition `json:"conditions"`
	Tmin       float64          `json:"tmin"`
	Tstep      float64          `json:"tstep"`
	Noise      float64          `json:"noise"`
	Seed       int64            `json:"seed"`
	Effects    []Effect         `json:"effects"`
}

// DefaultSubjectConfig returns a small study: 8 subjects, 6 vertices, 10
// samples and three conditions.
func DefaultSubjectConfig() SubjectGeneratorConfig {
	return SubjectGeneratorConfig{
		Subjects:   8,
		Vertices:   6,
		Samples:    10,
		Conditions: []core.Condition{"language", "letter", "noise"},
		Tmin:       -0.1,
		Tstep:      0.01,
		Noise:      0.1,
		Seed:       42,
	}
}

// SubjectGenerator produces deterministic synthetic observations
type SubjectGenerator struct {
	config SubjectGeneratorConfig
	rng    *rand.Rand
}

// NewSubjectGenerator creates a generator
func NewSubjectGenerator(config SubjectGeneratorConfig) *SubjectGenerator {
	return &SubjectGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// SubjectIDs returns s01, s02, ...
func (g *SubjectGenerator) SubjectIDs() []core.SubjectID {
	ids := make([]core.SubjectID, g.config.Subjects)
	for i := range ids {
		ids[i] = core.SubjectID(fmt.Sprintf("s%02d", i+1))
	}
	return ids
}

// Study splits the subjects into two Intervention cohorts (alternating)
// and two Knowledge cohorts (first half / second half).
func (g *SubjectGenerator) Study() *cohort.Study {
	ids := g.SubjectIDs()
	var language, letter, low, high []core.SubjectID
	for i, id := range ids {
		if i%2 == 0 {
			language = append(language, id)
		} else {
			letter = append(letter, id)
		}
		if i < len(ids)/2 {
			low = append(low, id)
		} else {
			high = append(high, id)
		}
	}
	return &cohort.Study{
		Subjects: ids,
		Schemes: []cohort.Scheme{
			{Name: cohort.SchemeIntervention, Cohorts: []cohort.Cohort{
				{Name: "LanguageIntervention", Members: language},
				{Name: "LetterIntervention", Members: letter},
			}},
			{Name: cohort.SchemeKnowledge, Cohorts: []cohort.Cohort{
				{Name: "LowKnowledge", Members: low},
				{Name: "HighKnowledge", Members: high},
			}},
		},
	}
}

// Generate fills store with every subject × recorded timepoint × condition.
// Each vertex has a per-subject baseline plus Gaussian noise per sample.
func (g *SubjectGenerator) Generate(store *InMemoryObservationStore) {
	c := g.config
	for _, subject := range g.SubjectIDs() {
		baseline := make([]float64, c.Vertices)
		for v := range baseline {
			baseline[v] = g.rng.NormFloat64()
		}
		for _, tp := range []core.Timepoint{core.TimepointPre, core.TimepointPost} {
			for _, cond := range c.Conditions {
				data := mat.NewDense(c.Vertices, c.Samples, nil)
				for v := 0; v < c.Vertices; v++ {
					shift := g.shift(subject, tp, cond, v)
					for t := 0; t < c.Samples; t++ {
						data.Set(v, t, baseline[v]+shift+c.Noise*g.rng.NormFloat64())
					}
				}
				store.Put(observation.New(subject, tp, cond, c.Tmin, c.Tstep, data))
			}
		}
	}
}

func (g *SubjectGenerator) shift(subject core.SubjectID, tp core.Timepoint, cond core.Condition, vertex int) float64 {
	total := 0.0
	for _, e := range g.config.Effects {
		if e.Condition != cond || e.Timepoint != tp || e.Vertex != vertex {
			continue
		}
		if len(e.Subjects) == 0 || contains(e.Subjects, subject) {
			total += e.Shift
		}
	}
	return total
}

func contains(ids []core.SubjectID, id core.SubjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
