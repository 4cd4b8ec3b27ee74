package run

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"megstats/domain/core"
)

// Stage names recorded in the ledger
type Stage string

const (
	StageAssemble Stage = "assemble"
	StageCluster  Stage = "cluster"
	StageExtract  Stage = "extract"
	StageReject   Stage = "reject"
)

// Fingerprint identifies a cluster run by everything that determines its
// output. Two runs with the same fingerprint must produce the same digest.
type Fingerprint struct {
	ParamsHash  core.ParamsHash `json:"params_hash"`
	CohortHash  core.CohortHash `json:"cohort_hash"`
	InputStems  []string        `json:"input_stems"`
	Seed        int64           `json:"seed"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"`
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(paramsHash core.ParamsHash, cohortHash core.CohortHash, inputStems []string, seed int64, codeVersion string) Fingerprint {
	stems := append([]string(nil), inputStems...)
	return Fingerprint{
		ParamsHash:  paramsHash,
		CohortHash:  cohortHash,
		InputStems:  stems,
		Seed:        seed,
		CodeVersion: codeVersion,
		Fingerprint: computeFingerprint(paramsHash, cohortHash, stems, seed, codeVersion),
	}
}

// Input stems are hashed in the order given: the order of subjects in the
// stack is part of what the permutation stream sees.
func computeFingerprint(paramsHash core.ParamsHash, cohortHash core.CohortHash, inputStems []string, seed int64, codeVersion string) core.Hash {
	data := fmt.Sprintf("params:%s|cohort:%s|inputs:%s|seed:%d|code:%s",
		paramsHash, cohortHash, strings.Join(inputStems, ","), seed, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
