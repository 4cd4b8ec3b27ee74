// Package cohort models the study's subject list and the grouping schemes
// that partition it.
package cohort

import (
	"fmt"
	"sort"

	"megstats/domain/core"
)

// SchemeName identifies a grouping scheme
type SchemeName string

const (
	// SchemeIntervention splits subjects by the camp they attended
	SchemeIntervention SchemeName = "Intervention"
	// SchemeKnowledge is the median split on pretest letter knowledge
	SchemeKnowledge SchemeName = "Knowledge"
)

// Cohort is a named subject subgroup
type Cohort struct {
	Name    core.GroupName   `yaml:"name" json:"name"`
	Members []core.SubjectID `yaml:"members" json:"members"`
}

// Size returns the number of members
func (c Cohort) Size() int {
	return len(c.Members)
}

// Contains reports whether the subject is a member
func (c Cohort) Contains(subject core.SubjectID) bool {
	for _, m := range c.Members {
		if m == subject {
			return true
		}
	}
	return false
}

// Hash returns the order-independent membership hash
func (c Cohort) Hash() core.CohortHash {
	return core.ComputeCohortHash(c.Members)
}

// Scheme is a grouping of all subjects into cohorts
type Scheme struct {
	Name    SchemeName `yaml:"name" json:"name"`
	Cohorts []Cohort   `yaml:"cohorts" json:"cohorts"`
}

// Cohort returns the cohort with the given name
func (s Scheme) Cohort(name core.GroupName) (Cohort, bool) {
	for _, c := range s.Cohorts {
		if c.Name == name {
			return c, true
		}
	}
	return Cohort{}, false
}

// Sizes maps cohort name to member count
func (s Scheme) Sizes() map[core.GroupName]int {
	sizes := make(map[core.GroupName]int, len(s.Cohorts))
	for _, c := range s.Cohorts {
		sizes[c.Name] = c.Size()
	}
	return sizes
}

// Validate checks that the cohorts partition subjects: pairwise disjoint,
// union equal to the subject list, and no member outside it.
func (s Scheme) Validate(subjects []core.SubjectID) error {
	enrolled := make(map[core.SubjectID]bool, len(subjects))
	for _, subj := range subjects {
		enrolled[subj] = true
	}

	owner := make(map[core.SubjectID]core.GroupName, len(subjects))
	for _, c := range s.Cohorts {
		if c.Size() == 0 {
			return fmt.Errorf("%w: %s/%s", core.ErrEmptyGroup, s.Name, c.Name)
		}
		for _, m := range c.Members {
			if !enrolled[m] {
				return fmt.Errorf("%w: %s/%s lists unenrolled subject %s", core.ErrCohortIncomplete, s.Name, c.Name, m)
			}
			if prev, dup := owner[m]; dup {
				return fmt.Errorf("%w: %s in both %s and %s (%s)", core.ErrCohortOverlap, m, prev, c.Name, s.Name)
			}
			owner[m] = c.Name
		}
	}

	var missing []string
	for _, subj := range subjects {
		if _, ok := owner[subj]; !ok {
			missing = append(missing, string(subj))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s is missing %v", core.ErrCohortIncomplete, s.Name, missing)
	}
	return nil
}

// Study is the enrolled subject list plus its grouping schemes
type Study struct {
	Subjects []core.SubjectID `yaml:"subjects" json:"subjects"`
	Schemes  []Scheme         `yaml:"schemes" json:"schemes"`
}

// Validate checks every scheme's partition invariant and rejects duplicate
// subject IDs.
func (st *Study) Validate() error {
	if len(st.Subjects) == 0 {
		return fmt.Errorf("%w: study has no subjects", core.ErrEmptyGroup)
	}
	seen := make(map[core.SubjectID]bool, len(st.Subjects))
	for _, s := range st.Subjects {
		if seen[s] {
			return fmt.Errorf("%w: subject %s enrolled twice", core.ErrCohortOverlap, s)
		}
		seen[s] = true
	}
	for _, scheme := range st.Schemes {
		if err := scheme.Validate(st.Subjects); err != nil {
			return err
		}
	}
	return nil
}

// Scheme returns a grouping scheme by name
func (st *Study) Scheme(name SchemeName) (Scheme, bool) {
	for _, s := range st.Schemes {
		if s.Name == name {
			return s, true
		}
	}
	return Scheme{}, false
}

// CohortOf returns the cohort a subject belongs to in a scheme
func (st *Study) CohortOf(scheme SchemeName, subject core.SubjectID) (core.GroupName, error) {
	s, ok := st.Scheme(scheme)
	if !ok {
		return "", fmt.Errorf("%w: scheme %s", core.ErrUnknownCohort, scheme)
	}
	for _, c := range s.Cohorts {
		if c.Contains(subject) {
			return c.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no %s cohort", core.ErrUnknownCohort, subject, scheme)
}

// Group resolves a group name to its members and the scheme it belongs to.
// GrandAvg resolves to every subject with an empty scheme name.
func (st *Study) Group(name core.GroupName) (Cohort, SchemeName, error) {
	if name == core.GrandAverage {
		return Cohort{Name: core.GrandAverage, Members: append([]core.SubjectID(nil), st.Subjects...)}, "", nil
	}
	for _, s := range st.Schemes {
		if c, ok := s.Cohort(name); ok {
			return c, s.Name, nil
		}
	}
	return Cohort{}, "", fmt.Errorf("%w: %s", core.ErrUnknownCohort, name)
}

// Groups lists GrandAvg followed by every cohort of every scheme
func (st *Study) Groups() []core.GroupName {
	names := []core.GroupName{core.GrandAverage}
	for _, s := range st.Schemes {
		for _, c := range s.Cohorts {
			names = append(names, c.Name)
		}
	}
	return names
}
