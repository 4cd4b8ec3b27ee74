// Package naming formats and parses the on-disk layout shared by every
// stage: per-subject directories, observation stems, group stems and
// cluster result stems.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"megstats/domain/core"
)

const (
	// ClusterSuffix marks a cluster result stem
	ClusterSuffix = "_clu"
	// NoSignificantSuffix names the marker written when a test finds nothing
	NoSignificantSuffix = "_no_significant_clusters.txt"

	campSuffix  = "_camp"
	groupSpace  = "FSAverage"
	npyExt      = ".npy"
	npzExt      = ".npz"
	sheetExt    = ".xlsx"
	reportExt   = ".md"
	plotPattern = "%s_cluster%02d.png"
)

var groupHead = regexp.MustCompile(`^(.+)N(\d+)` + groupSpace + `$`)

// Layout carries the path components fixed for a study
type Layout struct {
	Root       string
	Output     string
	HeadPos    string
	Experiment string
	Method     string
}

// SubjectDir is {root}/{timepoint}_camp/{headpos}/{experiment}/{subject}
func (l Layout) SubjectDir(subject core.SubjectID, tp core.Timepoint) string {
	return filepath.Join(l.Root, string(tp)+campSuffix, l.HeadPos, l.Experiment, string(subject))
}

// SubjectPath is the .npy file holding one subject observation
func (l Layout) SubjectPath(subject core.SubjectID, tp core.Timepoint, condition core.Condition) string {
	return filepath.Join(l.SubjectDir(subject, tp), SubjectStem(subject, tp, l.Method, condition)+npyExt)
}

// GroupPath is the .npy file holding a group average
func (l Layout) GroupPath(group core.GroupName, n int, tp core.Timepoint, condition core.Condition) string {
	return filepath.Join(l.Output, GroupStem(group, n, tp, l.Method, condition)+npyExt)
}

// ClusterPath is the .npz archive of a cluster test
func (l Layout) ClusterPath(stem string) string {
	return filepath.Join(l.Output, stem+npzExt)
}

// MarkerPath is the sentinel written instead of extraction outputs
func (l Layout) MarkerPath(stem string) string {
	return filepath.Join(l.Output, stem+NoSignificantSuffix)
}

// SheetPath is the time-course workbook for a cluster stem
func (l Layout) SheetPath(stem string) string {
	return filepath.Join(l.Output, stem+"_timecourses"+sheetExt)
}

// PlotPath is the PNG for one significant cluster
func (l Layout) PlotPath(stem string, clusterIdx int) string {
	return filepath.Join(l.Output, fmt.Sprintf(plotPattern, stem, clusterIdx))
}

// ReportPath is the markdown report for a cluster stem
func (l Layout) ReportPath(stem string) string {
	return filepath.Join(l.Output, stem+reportExt)
}

// ClusterStems lists the stems of the cluster archives under the output
// directory, sorted
func (l Layout) ClusterStems() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.Output, "*"+ClusterSuffix+npzExt))
	if err != nil {
		return nil, err
	}
	stems := make([]string, len(matches))
	for i, m := range matches {
		stems[i] = strings.TrimSuffix(filepath.Base(m), npzExt)
	}
	sort.Strings(stems)
	return stems, nil
}

// SubjectStem is {subject}_{timepoint}_{method}_{condition}
func SubjectStem(subject core.SubjectID, tp core.Timepoint, method string, condition core.Condition) string {
	return fmt.Sprintf("%s_%s_%s_%s", subject, tp, method, condition)
}

// GroupStem is {group}N{n}FSAverage_{timepoint}_{method}_{condition}
func GroupStem(group core.GroupName, n int, tp core.Timepoint, method string, condition core.Condition) string {
	return fmt.Sprintf("%sN%d%s_%s_%s_%s", group, n, groupSpace, tp, method, condition)
}

// ClusterStem is the group stem of a contrast followed by _clu
func ClusterStem(group core.GroupName, n int, tp core.Timepoint, method string, contrast core.Condition) string {
	return GroupStem(group, n, tp, method, contrast) + ClusterSuffix
}

// GroupStemParts are the fields recovered from a group or cluster stem
type GroupStemParts struct {
	Group     core.GroupName
	N         int
	Timepoint core.Timepoint
	Method    string
	Condition core.Condition
	Cluster   bool
}

// ParseGroupStem splits a group or cluster stem back into its fields. A
// trailing file extension is ignored. The condition is everything after the
// method, so condition names may themselves contain underscores.
func ParseGroupStem(stem string) (GroupStemParts, error) {
	var parts GroupStemParts
	base := strings.TrimSuffix(filepath.Base(stem), filepath.Ext(stem))
	if strings.HasSuffix(base, ClusterSuffix) {
		parts.Cluster = true
		base = strings.TrimSuffix(base, ClusterSuffix)
	}

	fields := strings.SplitN(base, "_", 4)
	if len(fields) != 4 {
		return parts, fmt.Errorf("malformed group stem %q: want {group}N{n}%s_{timepoint}_{method}_{condition}", stem, groupSpace)
	}
	m := groupHead.FindStringSubmatch(fields[0])
	if m == nil {
		return parts, fmt.Errorf("malformed group stem %q: bad group field %q", stem, fields[0])
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return parts, fmt.Errorf("malformed group stem %q: %w", stem, err)
	}
	for i, f := range fields[1:] {
		if f == "" {
			return parts, fmt.Errorf("malformed group stem %q: empty field %d", stem, i+1)
		}
	}

	parts.Group = core.GroupName(m[1])
	parts.N = n
	parts.Timepoint = core.Timepoint(fields[1])
	parts.Method = fields[2]
	parts.Condition = core.Condition(fields[3])
	return parts, nil
}

// TwoSample reports whether the group field names two groups joined by a
// dash, as two-sample cluster stems do.
func (p GroupStemParts) TwoSample() bool {
	return strings.Contains(string(p.Group), "-")
}
