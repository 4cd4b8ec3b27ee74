package clusterstat

import (
	"github.com/montanaflynn/stats"
)

// NullSummary describes the permutation null distribution
type NullSummary struct {
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Percentile95 float64 `json:"percentile_95"`
	Percentile99 float64 `json:"percentile_99"`
}

// SummarizeNull computes descriptive statistics of h0
func SummarizeNull(h0 []float64) NullSummary {
	if len(h0) == 0 {
		return NullSummary{}
	}
	data := stats.Float64Data(h0)
	mean, _ := stats.Mean(data)
	sd, _ := stats.StandardDeviationSample(data)
	min, _ := stats.Min(data)
	max, _ := stats.Max(data)
	p95, _ := stats.Percentile(data, 95)
	p99, _ := stats.Percentile(data, 99)
	return NullSummary{
		Mean:         mean,
		StdDev:       sd,
		Min:          min,
		Max:          max,
		Percentile95: p95,
		Percentile99: p99,
	}
}
