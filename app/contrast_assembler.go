package app

import (
	"context"
	"fmt"
	"sort"

	"megstats/domain/cohort"
	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"
)

// GroupRequest addresses one group average: a group, a timepoint and a
// condition or condition-contrast name.
type GroupRequest struct {
	Group     core.GroupName
	Timepoint core.Timepoint
	Name      core.Condition
}

func (r GroupRequest) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Group, r.Timepoint, r.Name)
}

// Assembly maps group → timepoint → condition or contrast → group mean
type Assembly map[core.GroupName]map[core.Timepoint]map[core.Condition]*observation.Observation

// Len counts the observations in the assembly
func (a Assembly) Len() int {
	n := 0
	for _, byTp := range a {
		for _, byName := range byTp {
			n += len(byName)
		}
	}
	return n
}

func (a Assembly) put(req GroupRequest, obs *observation.Observation) {
	if a[req.Group] == nil {
		a[req.Group] = make(map[core.Timepoint]map[core.Condition]*observation.Observation)
	}
	if a[req.Group][req.Timepoint] == nil {
		a[req.Group][req.Timepoint] = make(map[core.Condition]*observation.Observation)
	}
	a[req.Group][req.Timepoint][req.Name] = obs
}

// ContrastAssembler enumerates the group × timepoint × condition grid the
// study design defines and computes group means and per-subject stacks,
// deriving post-pre and condition contrasts from the stored recordings.
type ContrastAssembler struct {
	study      *cohort.Study
	reader     ports.ObservationReader
	conditions []core.Condition
	contrasts  map[core.Condition][2]core.Condition
	order      []core.Condition
	logger     *internal.Logger
}

// NewContrastAssembler creates an assembler. Excluded conditions take no
// part in condition contrasts but remain addressable on their own.
func NewContrastAssembler(study *cohort.Study, reader ports.ObservationReader, conditions, exclude []core.Condition, logger *internal.Logger) *ContrastAssembler {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	a := &ContrastAssembler{
		study:      study,
		reader:     reader,
		conditions: append([]core.Condition(nil), conditions...),
		contrasts:  make(map[core.Condition][2]core.Condition),
		logger:     logger,
	}

	excluded := make(map[core.Condition]bool, len(exclude))
	for _, c := range exclude {
		excluded[c] = true
	}
	var kept []string
	for _, c := range conditions {
		if !excluded[c] {
			kept = append(kept, string(c))
		}
	}
	sort.Strings(kept)
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if kept[i] == kept[j] {
				continue
			}
			a1, b1 := core.Condition(kept[i]), core.Condition(kept[j])
			name := core.ContrastName(a1, b1)
			if _, dup := a.contrasts[name]; dup {
				continue
			}
			a.contrasts[name] = [2]core.Condition{a1, b1}
			a.order = append(a.order, name)
		}
	}
	return a
}

// Study returns the cohort design the assembler enumerates
func (a *ContrastAssembler) Study() *cohort.Study {
	return a.study
}

// Contrasts returns the condition contrast names in lexicographic pair order
func (a *ContrastAssembler) Contrasts() []core.Condition {
	return append([]core.Condition(nil), a.order...)
}

// Names returns every addressable name: plain conditions then contrasts
func (a *ContrastAssembler) Names() []core.Condition {
	return append(append([]core.Condition(nil), a.conditions...), a.order...)
}

// Constituents returns the plain conditions behind name: the pair for a
// contrast, name itself for a condition, nil when unknown.
func (a *ContrastAssembler) Constituents(name core.Condition) []core.Condition {
	if pair, ok := a.contrasts[name]; ok {
		return []core.Condition{pair[0], pair[1]}
	}
	if a.isCondition(name) {
		return []core.Condition{name}
	}
	return nil
}

// Allowed reports whether the study design defines group at tp.
// Knowledge cohorts exist only pre-camp, Intervention cohorts only as the
// post-pre contrast, and GrandAvg everywhere.
func (a *ContrastAssembler) Allowed(group core.GroupName, tp core.Timepoint) (bool, error) {
	_, scheme, err := a.study.Group(group)
	if err != nil {
		return false, err
	}
	switch scheme {
	case cohort.SchemeKnowledge:
		return tp == core.TimepointPre, nil
	case cohort.SchemeIntervention:
		return tp == core.TimepointPostMinusPre, nil
	default:
		return true, nil
	}
}

// Requests enumerates every allowed combination in deterministic order
func (a *ContrastAssembler) Requests() []GroupRequest {
	var reqs []GroupRequest
	for _, g := range a.study.Groups() {
		for _, tp := range core.Timepoints() {
			if ok, err := a.Allowed(g, tp); err != nil || !ok {
				continue
			}
			for _, name := range a.Names() {
				reqs = append(reqs, GroupRequest{Group: g, Timepoint: tp, Name: name})
			}
		}
	}
	return reqs
}

// GroupSize returns the number of subjects contributing to group
func (a *ContrastAssembler) GroupSize(group core.GroupName) (int, error) {
	c, _, err := a.study.Group(group)
	if err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// Assemble computes the group mean for each request. Disallowed requests
// are skipped; a missing subject observation aborts the whole assembly.
func (a *ContrastAssembler) Assemble(ctx context.Context, reqs []GroupRequest) (Assembly, error) {
	out := make(Assembly)
	for _, req := range reqs {
		obs, err := a.Average(ctx, req)
		if err != nil {
			return nil, err
		}
		if obs == nil {
			continue
		}
		out.put(req, obs)
	}
	a.logger.Info("assembled %d group observations from %d requests", out.Len(), len(reqs))
	return out, nil
}

// AssembleAll assembles every allowed request
func (a *ContrastAssembler) AssembleAll(ctx context.Context) (Assembly, error) {
	return a.Assemble(ctx, a.Requests())
}

// Average streams the group's subjects through an accumulator. It returns
// nil, nil when the design does not define the request.
func (a *ContrastAssembler) Average(ctx context.Context, req GroupRequest) (*observation.Observation, error) {
	members, ok, err := a.members(req)
	if err != nil || !ok {
		return nil, err
	}
	acc := observation.NewAccumulator(req.Group, req.Timepoint, req.Name)
	for _, subject := range members {
		obs, err := a.SubjectObservation(ctx, subject, req.Timepoint, req.Name)
		if err != nil {
			return nil, err
		}
		if err := acc.Add(obs); err != nil {
			return nil, err
		}
	}
	return acc.Mean()
}

// SubjectStack returns the per-subject observations behind a group mean,
// in cohort member order. It returns nil, nil for disallowed requests.
func (a *ContrastAssembler) SubjectStack(ctx context.Context, group core.GroupName, tp core.Timepoint, name core.Condition) ([]*observation.Observation, error) {
	req := GroupRequest{Group: group, Timepoint: tp, Name: name}
	members, ok, err := a.members(req)
	if err != nil || !ok {
		return nil, err
	}
	stack := make([]*observation.Observation, 0, len(members))
	for _, subject := range members {
		obs, err := a.SubjectObservation(ctx, subject, tp, name)
		if err != nil {
			return nil, err
		}
		obs.Group = group
		stack = append(stack, obs)
	}
	return stack, nil
}

func (a *ContrastAssembler) members(req GroupRequest) ([]core.SubjectID, bool, error) {
	allowed, err := a.Allowed(req.Group, req.Timepoint)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		a.logger.Debug("skipping %s: not defined by the study design", req)
		return nil, false, nil
	}
	c, _, err := a.study.Group(req.Group)
	if err != nil {
		return nil, false, err
	}
	if c.Size() == 0 {
		return nil, false, fmt.Errorf("%w: %s", core.ErrEmptyGroup, req.Group)
	}
	return c.Members, true, nil
}

// SubjectObservation loads or derives one subject's observation. post-pre
// is post minus pre; a contrast name is the difference of its two
// conditions. Both compose, so post-pre of letter-language works.
func (a *ContrastAssembler) SubjectObservation(ctx context.Context, subject core.SubjectID, tp core.Timepoint, name core.Condition) (*observation.Observation, error) {
	if tp == core.TimepointPostMinusPre {
		return a.difference(ctx,
			func() (*observation.Observation, error) { return a.SubjectObservation(ctx, subject, core.TimepointPost, name) },
			func() (*observation.Observation, error) { return a.SubjectObservation(ctx, subject, core.TimepointPre, name) },
		)
	}
	if pair, ok := a.contrasts[name]; ok {
		return a.difference(ctx,
			func() (*observation.Observation, error) { return a.SubjectObservation(ctx, subject, tp, pair[0]) },
			func() (*observation.Observation, error) { return a.SubjectObservation(ctx, subject, tp, pair[1]) },
		)
	}
	if !a.isCondition(name) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown condition or contrast %q", name))
	}
	obs, err := a.reader.ReadObservation(ctx, subject, tp, name)
	if err != nil {
		if core.IsNotFoundError(err) {
			return nil, err
		}
		return nil, apperrors.Wrapf(err, "failed to read %s %s %s", subject, tp, name)
	}
	return obs, nil
}

func (a *ContrastAssembler) difference(ctx context.Context, left, right func() (*observation.Observation, error)) (*observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, err := left()
	if err != nil {
		return nil, err
	}
	y, err := right()
	if err != nil {
		return nil, err
	}
	return observation.Subtract(x, y)
}

func (a *ContrastAssembler) isCondition(name core.Condition) bool {
	for _, c := range a.conditions {
		if c == name {
			return true
		}
	}
	return false
}

// WriteAssembly persists every group mean of asm under the layout's output
// directory and returns the written paths in request order.
func (a *ContrastAssembler) WriteAssembly(ctx context.Context, w ports.ObservationWriter, layout naming.Layout, asm Assembly) ([]string, error) {
	var paths []string
	for _, req := range a.Requests() {
		obs, ok := asm[req.Group][req.Timepoint][req.Name]
		if !ok {
			continue
		}
		n, err := a.GroupSize(req.Group)
		if err != nil {
			return nil, err
		}
		path := layout.GroupPath(req.Group, n, req.Timepoint, req.Name)
		if err := w.WriteObservation(ctx, path, obs); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
