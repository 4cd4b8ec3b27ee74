package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex characters, for log lines and file names
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Domain-specific hash types
type (
	CohortHash Hash
	ParamsHash Hash
)

func (h CohortHash) String() string { return Hash(h).String() }
func (h ParamsHash) String() string { return Hash(h).String() }

// ComputeCohortHash hashes a subject set independent of member order
func ComputeCohortHash(subjects []SubjectID) CohortHash {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = string(s)
	}
	sort.Strings(ids)
	return CohortHash(NewHash([]byte(strings.Join(ids, "\x00"))))
}

// ComputeParamsHash hashes a flat parameter map with sorted keys
func ComputeParamsHash(params map[string]interface{}) ParamsHash {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString("=")
		data.WriteString(fmt.Sprintf("%v", params[key]))
		data.WriteString(";")
	}
	return ParamsHash(NewHash([]byte(data.String())))
}
