package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"megstats/domain/cluster"
	"megstats/domain/cohort"
	"megstats/domain/core"
	"megstats/internal/errors"
	"megstats/internal/naming"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MEGSTATS_STATS_SEED
const EnvPrefix = "MEGSTATS"

// Config represents the complete study configuration
type Config struct {
	Paths    PathConfig
	Study    StudyConfig
	Stats    StatsConfig
	Reject   RejectConfig
	Ledger   LedgerConfig
	UI       UIConfig
	LogLevel string
}

// PathConfig holds file system paths
type PathConfig struct {
	Root       string
	Output     string
	HeadPos    string
	Experiment string
}

// StudyConfig describes the recordings
type StudyConfig struct {
	Method             string
	Conditions         []core.Condition
	ExcludeConditions  []core.Condition
	CohortFile         string
	Triangles          string
	HemisphereVertices int
	Tmin               float64
	Tstep              float64
}

// StatsConfig holds cluster test settings
type StatsConfig struct {
	NPermutations int
	Seed          int64
	Tail          cluster.Tail
	Threshold     float64
	TFCEStart     float64
	TFCEStep      float64
	ClusterAlpha  float64
	Workers       int
	Stat          cluster.Stat
}

// RejectConfig holds the rejection-threshold grid
type RejectConfig struct {
	Thresholds []float64
	Folds      int
}

// LedgerConfig selects where run manifests are recorded
type LedgerConfig struct {
	Driver string
	DSN    string
}

// UIConfig holds report browser settings
type UIConfig struct {
	Port string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.output", "./output")
	v.SetDefault("paths.headpos", "")
	v.SetDefault("paths.experiment", "")

	v.SetDefault("study.method", "dSPM")
	v.SetDefault("study.hemisphere_vertices", 10242)
	v.SetDefault("study.tmin", 0.0)
	v.SetDefault("study.tstep", 0.001)

	v.SetDefault("stats.n_permutations", 1024)
	v.SetDefault("stats.seed", 42)
	v.SetDefault("stats.tail", 0)
	v.SetDefault("stats.threshold", 0.0)
	v.SetDefault("stats.tfce_start", 0.0)
	v.SetDefault("stats.tfce_step", 0.0)
	v.SetDefault("stats.cluster_alpha", cluster.DefaultAlpha)
	v.SetDefault("stats.workers", runtime.NumCPU())
	v.SetDefault("stats.stat", string(cluster.StatT))

	v.SetDefault("reject.thresholds", []string{"1e-12", "2e-12", "4e-12", "8e-12"})
	v.SetDefault("reject.folds", 5)

	v.SetDefault("ledger.driver", "file")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("ui.port", "8080")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the YAML file at path (optional), applies
// MEGSTATS_* environment overrides and validates it
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), fmt.Sprintf("failed to read config %s", path))
		}
	}

	reject, err := loadRejectConfig(v)
	if err != nil {
		return nil, err
	}
	config := &Config{
		Paths:    loadPathConfig(v),
		Study:    loadStudyConfig(v),
		Stats:    loadStatsConfig(v),
		Reject:   reject,
		Ledger:   LedgerConfig{Driver: v.GetString("ledger.driver"), DSN: v.GetString("ledger.dsn")},
		UI:       UIConfig{Port: v.GetString("ui.port")},
		LogLevel: v.GetString("log_level"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadPathConfig(v *viper.Viper) PathConfig {
	return PathConfig{
		Root:       v.GetString("paths.root"),
		Output:     v.GetString("paths.output"),
		HeadPos:    v.GetString("paths.headpos"),
		Experiment: v.GetString("paths.experiment"),
	}
}

func loadStudyConfig(v *viper.Viper) StudyConfig {
	return StudyConfig{
		Method:             v.GetString("study.method"),
		Conditions:         conditions(v.GetStringSlice("study.conditions")),
		ExcludeConditions:  conditions(v.GetStringSlice("study.exclude_conditions")),
		CohortFile:         v.GetString("study.cohort_file"),
		Triangles:          v.GetString("study.triangles"),
		HemisphereVertices: v.GetInt("study.hemisphere_vertices"),
		Tmin:               v.GetFloat64("study.tmin"),
		Tstep:              v.GetFloat64("study.tstep"),
	}
}

func loadStatsConfig(v *viper.Viper) StatsConfig {
	return StatsConfig{
		NPermutations: v.GetInt("stats.n_permutations"),
		Seed:          v.GetInt64("stats.seed"),
		Tail:          cluster.Tail(v.GetInt("stats.tail")),
		Threshold:     v.GetFloat64("stats.threshold"),
		TFCEStart:     v.GetFloat64("stats.tfce_start"),
		TFCEStep:      v.GetFloat64("stats.tfce_step"),
		ClusterAlpha:  v.GetFloat64("stats.cluster_alpha"),
		Workers:       v.GetInt("stats.workers"),
		Stat:          cluster.Stat(v.GetString("stats.stat")),
	}
}

func loadRejectConfig(v *viper.Viper) (RejectConfig, error) {
	cfg := RejectConfig{Folds: v.GetInt("reject.folds")}
	for _, raw := range v.GetStringSlice("reject.thresholds") {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return cfg, errors.ConfigInvalid(fmt.Sprintf("reject.thresholds: %q is not a number", raw))
		}
		cfg.Thresholds = append(cfg.Thresholds, f)
	}
	return cfg, nil
}

func conditions(raw []string) []core.Condition {
	out := make([]core.Condition, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, core.Condition(s))
		}
	}
	return out
}

func validateConfig(config *Config) error {
	if config.Paths.Root == "" {
		return errors.ConfigInvalid("paths.root is required")
	}
	if config.Study.CohortFile == "" {
		return errors.ConfigInvalid("study.cohort_file is required")
	}
	if len(config.Study.Conditions) == 0 {
		return errors.ConfigInvalid("study.conditions must list at least one condition")
	}
	if config.Study.Tstep <= 0 {
		return errors.ConfigInvalid("study.tstep must be positive")
	}
	if config.Study.HemisphereVertices <= 0 {
		return errors.ConfigInvalid("study.hemisphere_vertices must be positive")
	}
	if config.Stats.NPermutations < 1 {
		return errors.ConfigInvalid("stats.n_permutations must be positive")
	}
	if t := config.Stats.Tail; t < cluster.TailLower || t > cluster.TailUpper {
		return errors.ConfigInvalid(fmt.Sprintf("stats.tail must be -1, 0 or 1, got %d", t))
	}
	if a := config.Stats.ClusterAlpha; a <= 0 || a >= 1 {
		return errors.ConfigInvalid(fmt.Sprintf("stats.cluster_alpha must be in (0,1), got %g", a))
	}
	if s := config.Stats.Stat; s != cluster.StatT && s != cluster.StatF {
		return errors.ConfigInvalid(fmt.Sprintf("stats.stat must be t or f, got %q", s))
	}
	if config.Reject.Folds < 2 {
		return errors.ConfigInvalid(fmt.Sprintf("reject.folds must be at least 2, got %d", config.Reject.Folds))
	}
	if d := config.Ledger.Driver; d != "file" && d != "postgres" {
		return errors.ConfigInvalid(fmt.Sprintf("ledger.driver must be file or postgres, got %q", d))
	}
	if config.Ledger.Driver == "postgres" && config.Ledger.DSN == "" {
		return errors.ConfigInvalid("ledger.dsn is required for the postgres ledger")
	}
	return nil
}

// Layout returns the file layout described by the paths and study method
func (c *Config) Layout() naming.Layout {
	return naming.Layout{
		Root:       c.Paths.Root,
		Output:     c.Paths.Output,
		HeadPos:    c.Paths.HeadPos,
		Experiment: c.Paths.Experiment,
		Method:     c.Study.Method,
	}
}

// ClusterParams builds test parameters for kind from the stats section.
// A positive tfce_step selects TFCE; otherwise threshold 0 means the
// parametric default.
func (c *Config) ClusterParams(kind cluster.Kind) cluster.Params {
	p := cluster.DefaultParams()
	p.Kind = kind
	p.Tail = c.Stats.Tail
	p.NPermutations = c.Stats.NPermutations
	p.Seed = c.Stats.Seed
	p.Workers = c.Stats.Workers
	p.Alpha = c.Stats.ClusterAlpha
	p.Threshold = cluster.Fixed(c.Stats.Threshold)
	if c.Stats.TFCEStep > 0 {
		p.Threshold = cluster.ThresholdFree(c.Stats.TFCEStart, c.Stats.TFCEStep)
	}
	if kind == cluster.KindTwoSample {
		p.Stat = c.Stats.Stat
	}
	return p
}

// LoadStudy reads and validates the cohort membership document
func LoadStudy(path string) (*cohort.Study, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), fmt.Sprintf("failed to read cohort file %s", path))
	}
	var study cohort.Study
	if err := yaml.Unmarshal(raw, &study); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), fmt.Sprintf("failed to parse cohort file %s", path))
	}
	if err := study.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeValidationError, fmt.Errorf("cohort file %s: %w", path, err))
	}
	return &study, nil
}
