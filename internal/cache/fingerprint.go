package cache

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

// Supported fingerprint algorithms. Both produce 160 bits, hex-encoded.
const (
	AlgorithmSHA256 = "sha256-160"
	AlgorithmSHA1   = "sha1-160"

	DefaultAlgorithm = AlgorithmSHA256
)

const fingerprintBytes = 20

// Fingerprinter derives deterministic cache keys from job and candidate
// identity. The same inputs always yield the same fingerprint.
type Fingerprinter struct {
	algorithm string
}

// NewFingerprinter returns a fingerprinter for the named algorithm. An empty
// name selects the default.
func NewFingerprinter(algorithm string) (*Fingerprinter, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	switch algorithm {
	case AlgorithmSHA256, AlgorithmSHA1:
		return &Fingerprinter{algorithm: algorithm}, nil
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm %q", algorithm)
	}
}

// Algorithm returns the algorithm identifier stored alongside entries.
func (f *Fingerprinter) Algorithm() string {
	return f.algorithm
}

// Fingerprint computes the cache key for a (job, candidate) pair: the first
// 160 bits of a digest over both identities, hex-encoded.
func (f *Fingerprinter) Fingerprint(job *sourcing.JobProfile, candidate *sourcing.CandidateRecord) string {
	material := []byte(job.Identity() + "\n" + candidate.Identity())

	switch f.algorithm {
	case AlgorithmSHA1:
		sum := sha1.Sum(material)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(material)
		return hex.EncodeToString(sum[:fingerprintBytes])
	}
}
