package cache

import (
	"testing"

	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

func testJob() *sourcing.JobProfile {
	return &sourcing.JobProfile{
		Title:  "Software Engineer",
		Skills: []string{"python"},
	}
}

func testCandidate() *sourcing.CandidateRecord {
	return &sourcing.CandidateRecord{
		ID:          "c1",
		Name:        "Jane Doe",
		Company:     "Acme",
		TenureYears: 2,
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	fp, err := NewFingerprinter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := fp.Fingerprint(testJob(), testCandidate())
	second := fp.Fingerprint(testJob(), testCandidate())

	if first != second {
		t.Fatalf("fingerprints differ for identical inputs: %s vs %s", first, second)
	}

	if len(first) != fingerprintBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", fingerprintBytes*2, len(first))
	}
}

func TestFingerprintChangesWithInputs(t *testing.T) {
	fp, err := NewFingerprinter(AlgorithmSHA256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base := fp.Fingerprint(testJob(), testCandidate())

	job := testJob()
	job.Title = "Staff Engineer"
	if fp.Fingerprint(job, testCandidate()) == base {
		t.Fatal("fingerprint unchanged after job title change")
	}

	candidate := testCandidate()
	candidate.ID = "c2"
	if fp.Fingerprint(testJob(), candidate) == base {
		t.Fatal("fingerprint unchanged after candidate id change")
	}
}

func TestFingerprintSHA1(t *testing.T) {
	fp, err := NewFingerprinter(AlgorithmSHA1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := fp.Fingerprint(testJob(), testCandidate())
	if len(got) != 40 {
		t.Fatalf("expected 40 hex chars from sha1, got %d", len(got))
	}

	if fp.Algorithm() != AlgorithmSHA1 {
		t.Fatalf("unexpected algorithm: %s", fp.Algorithm())
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	if _, err := NewFingerprinter("md5"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestJobIdentityIgnoresFormatting(t *testing.T) {
	fp, _ := NewFingerprinter("")

	a := &sourcing.JobProfile{Title: "Software  Engineer", Skills: []string{"go", "python"}}
	b := &sourcing.JobProfile{Title: "software engineer", Skills: []string{"Python", "Go"}}

	if fp.Fingerprint(a, testCandidate()) != fp.Fingerprint(b, testCandidate()) {
		t.Fatal("expected normalized job profiles to share a fingerprint")
	}
}
