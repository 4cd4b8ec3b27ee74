package run

import (
	"fmt"

	"megstats/domain/core"
)

// CodeVersion is stamped into every manifest
const CodeVersion = "megstats/1"

// Manifest is the ledger record of one stage execution. For cluster runs
// Digest is the result digest, so a replay with the same fingerprint can be
// checked byte for byte.
type Manifest struct {
	RunID       core.RunID      `json:"run_id"`
	Stage       Stage           `json:"stage"`
	Label       string          `json:"label"`
	Seed        int64           `json:"seed"`
	ParamsHash  core.ParamsHash `json:"params_hash"`
	CohortHash  core.CohortHash `json:"cohort_hash"`
	InputStems  []string        `json:"input_stems"`
	ResultPath  string          `json:"result_path"`
	Digest      core.Hash       `json:"digest"`
	Significant int             `json:"significant"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	CreatedAt   core.Timestamp  `json:"created_at"`
}

// NewManifest creates a manifest with a fresh run ID
func NewManifest(stage Stage, label string, seed int64, paramsHash core.ParamsHash, cohortHash core.CohortHash, inputStems []string) *Manifest {
	fp := NewFingerprint(paramsHash, cohortHash, inputStems, seed, CodeVersion)
	return &Manifest{
		RunID:       core.NewRunID(),
		Stage:       stage,
		Label:       label,
		Seed:        seed,
		ParamsHash:  paramsHash,
		CohortHash:  cohortHash,
		InputStems:  fp.InputStems,
		Fingerprint: fp,
		CreatedAt:   core.Now(),
	}
}

// Complete records where the result went and what it contained
func (m *Manifest) Complete(resultPath string, digest core.Hash, significant int) {
	m.ResultPath = resultPath
	m.Digest = digest
	m.Significant = significant
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return fmt.Errorf("run manifest: run_id cannot be empty")
	}
	if m.Stage == "" {
		return fmt.Errorf("run manifest %s: stage cannot be empty", m.RunID)
	}
	if m.ParamsHash == "" {
		return fmt.Errorf("run manifest %s: params_hash cannot be empty", m.RunID)
	}
	if m.ResultPath == "" {
		return fmt.Errorf("run manifest %s: result_path cannot be empty", m.RunID)
	}
	return nil
}
