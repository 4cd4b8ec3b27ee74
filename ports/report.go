package ports

import (
	"context"

	"megstats/domain/cluster"
)

// TimeCourseWriter persists the per-subject cluster time courses
type TimeCourseWriter interface {
	WriteTimeCourses(ctx context.Context, path string, ex *cluster.Extraction) error
}

// ClusterPlotter renders one significant cluster (ex.Clusters[i])
type ClusterPlotter interface {
	PlotCluster(ctx context.Context, path string, ex *cluster.Extraction, i int) error
}

// ReportArtifacts are the files a report links to
type ReportArtifacts struct {
	Sheet string
	Plots []string
}

// ReportWriter writes the human-readable summary of an extraction
type ReportWriter interface {
	WriteReport(ctx context.Context, path string, ex *cluster.Extraction, artifacts ReportArtifacts) error
}
