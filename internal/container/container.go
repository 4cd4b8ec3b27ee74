// Package container wires configuration, adapters and services for the
// command line and the report browser.
package container

import (
	"context"
	"fmt"
	"path/filepath"

	"megstats/adapters/excel"
	"megstats/adapters/ledger"
	"megstats/adapters/npy"
	"megstats/adapters/plot"
	"megstats/adapters/postgres"
	"megstats/adapters/rng"
	"megstats/adapters/stats/clusterstat"
	"megstats/app"
	"megstats/domain/cohort"
	"megstats/internal"
	"megstats/internal/config"
	"megstats/internal/migration"
	"megstats/internal/naming"
	"megstats/internal/report"
	"megstats/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger
	Layout naming.Layout

	// Infrastructure
	DB     *sqlx.DB
	Ledger ports.LedgerPort

	// Study data
	Study        *cohort.Study
	Observations *npy.ObservationStore
	Results      *npy.ResultStore
	Assembler    *app.ContrastAssembler

	adjacency *clusterstat.Adjacency
}

// New creates a container with the study loaded and the ledger selected by
// ledger.driver. The postgres ledger connects and migrates immediately.
func New(ctx context.Context, cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	study, err := config.LoadStudy(cfg.Study.CohortFile)
	if err != nil {
		return nil, err
	}

	layout := cfg.Layout()
	c := &Container{
		Config:       cfg,
		Logger:       logger,
		Layout:       layout,
		Study:        study,
		Observations: npy.NewObservationStore(layout, cfg.Study.Tmin, cfg.Study.Tstep, logger),
		Results:      npy.NewResultStore(layout, logger),
	}
	c.Assembler = app.NewContrastAssembler(study, c.Observations, cfg.Study.Conditions, cfg.Study.ExcludeConditions, logger)

	if err := c.initLedger(ctx); err != nil {
		return nil, err
	}
	logger.Debug("container ready: %d subjects, ledger %s", len(study.Subjects), cfg.Ledger.Driver)
	return c, nil
}

func (c *Container) initLedger(ctx context.Context) error {
	switch c.Config.Ledger.Driver {
	case "postgres":
		db, err := Connect(ctx, c.Config.Ledger.DSN)
		if err != nil {
			return err
		}
		return c.InitWithDatabase(ctx, db)
	default:
		c.Ledger = ledger.NewFileLedger(filepath.Join(c.Layout.Output, ledger.DefaultFile), c.Logger)
		return nil
	}
}

// Connect opens a postgres connection
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// InitWithDatabase migrates db and records runs in it
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate run ledger: %w", err)
	}
	c.DB = db
	c.Ledger = postgres.NewRunLedger(db)
	return nil
}

// Adjacency loads the source-space mesh once. Both hemispheres share one
// vertex numbering of 2 × hemisphere_vertices.
func (c *Container) Adjacency() (*clusterstat.Adjacency, error) {
	if c.adjacency != nil {
		return c.adjacency, nil
	}
	if c.Config.Study.Triangles == "" {
		return nil, fmt.Errorf("study.triangles is required for cluster tests")
	}
	tris, err := npy.ReadTriangles(c.Config.Study.Triangles)
	if err != nil {
		return nil, err
	}
	adj, err := clusterstat.FromTriangles(2*c.Config.Study.HemisphereVertices, tris)
	if err != nil {
		return nil, err
	}
	c.adjacency = adj
	return adj, nil
}

// AssemblyService builds the group-average service
func (c *Container) AssemblyService() *app.AssemblyService {
	return app.NewAssemblyService(c.Assembler, c.Observations, c.Ledger, c.Layout, c.Logger)
}

// ClusterService builds the cluster test service over the mesh adjacency
func (c *Container) ClusterService() (*app.ClusterService, error) {
	adj, err := c.Adjacency()
	if err != nil {
		return nil, err
	}
	runner := clusterstat.NewRunner(rng.New(), c.Logger)
	return app.NewClusterService(c.Assembler, runner, adj, c.Results, c.Ledger, c.Config.Study.Method, c.Logger), nil
}

// ExtractionService builds the extraction service with all writers
func (c *Container) ExtractionService() *app.ExtractionService {
	cfg := app.ExtractionConfig{
		Layout:             c.Layout,
		HemisphereVertices: c.Config.Study.HemisphereVertices,
		Alpha:              c.Config.Stats.ClusterAlpha,
		Tmin:               c.Config.Study.Tmin,
		Tstep:              c.Config.Study.Tstep,
	}
	return app.NewExtractionService(c.Assembler, c.Results,
		excel.NewTimeCourseWriter(c.Logger), plot.NewClusterPlotter(c.Logger), report.NewWriter(c.Logger),
		c.Ledger, cfg, c.Logger)
}

// RejectionService builds the rejection-threshold search service
func (c *Container) RejectionService() *app.RejectionService {
	return app.NewRejectionService(npy.NewEpochReader(c.Logger), c.Ledger, c.Logger)
}

// Close releases the database connection, if any
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
