package app

import (
	"context"
	"strings"
	"time"

	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"
)

// AssemblyLabel is the ledger label of assembly runs
const AssemblyLabel = "group-averages"

// AssemblyOutcome lists the group averages written by one assembly
type AssemblyOutcome struct {
	Paths     []string      `json:"paths"`
	Manifest  *run.Manifest `json:"manifest"`
	RuntimeMs int64         `json:"runtime_ms"`
}

// AssemblyService computes every group average the design defines, writes
// them under the output directory and records the run.
type AssemblyService struct {
	assembler *ContrastAssembler
	writer    ports.ObservationWriter
	ledger    ports.LedgerWriterPort
	layout    naming.Layout
	logger    *internal.Logger
}

// NewAssemblyService creates an assembly service. ledger may be nil.
func NewAssemblyService(assembler *ContrastAssembler, writer ports.ObservationWriter, ledger ports.LedgerWriterPort,
	layout naming.Layout, logger *internal.Logger) *AssemblyService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &AssemblyService{
		assembler: assembler,
		writer:    writer,
		ledger:    ledger,
		layout:    layout,
		logger:    logger,
	}
}

// Run assembles and writes all group averages
func (s *AssemblyService) Run(ctx context.Context) (*AssemblyOutcome, error) {
	start := time.Now()
	asm, err := s.assembler.AssembleAll(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := s.assembler.WriteAssembly(ctx, s.writer, s.layout, asm)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, n := range s.assembler.Names() {
		names = append(names, string(n))
	}
	params := core.ComputeParamsHash(map[string]interface{}{
		"method": s.layout.Method,
		"names":  strings.Join(names, ","),
	})
	manifest := run.NewManifest(run.StageAssemble, AssemblyLabel, 0, params,
		core.ComputeCohortHash(s.assembler.Study().Subjects), nil)
	manifest.Complete(s.layout.Output, core.NewHash([]byte(strings.Join(paths, "\n"))), len(paths))
	if s.ledger != nil {
		if err := s.ledger.Record(ctx, manifest); err != nil {
			return nil, apperrors.Wrapf(err, "failed to record run %s", manifest.RunID)
		}
	}

	s.logger.Info("wrote %d group averages to %s", len(paths), s.layout.Output)
	return &AssemblyOutcome{Paths: paths, Manifest: manifest, RuntimeMs: time.Since(start).Milliseconds()}, nil
}
