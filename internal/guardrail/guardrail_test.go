package guardrail

import (
	"testing"
	"time"
)

func entry(key, hash string, blocked bool) Entry {
	return Entry{DedupeKey: key, TextHash: hash, Blocked: blocked, CreatedAt: time.Now()}
}

func TestEvaluateDuplicateIntent(t *testing.T) {
	recent := []Entry{entry("k1", "h1", false)}
	if got := Evaluate(Proposal{DedupeKey: "k1", TextHash: "h2"}, recent); got != BlockDuplicateIntent {
		t.Fatalf("Evaluate=%q want %q", got, BlockDuplicateIntent)
	}
}

func TestEvaluateRepeatedContent(t *testing.T) {
	recent := []Entry{entry("k1", "h1", false)}
	if got := Evaluate(Proposal{DedupeKey: "k2", TextHash: "h1"}, recent); got != BlockRepeatedContent {
		t.Fatalf("Evaluate=%q want %q", got, BlockRepeatedContent)
	}
}

func TestEvaluateDedupeKeyWinsOverHash(t *testing.T) {
	recent := []Entry{entry("k1", "h1", false)}
	if got := Evaluate(Proposal{DedupeKey: "k1", TextHash: "h1"}, recent); got != BlockDuplicateIntent {
		t.Fatalf("Evaluate=%q want %q", got, BlockDuplicateIntent)
	}
}

func TestEvaluateBlockedEntriesExcluded(t *testing.T) {
	recent := []Entry{
		entry("k1", "h1", true),
		entry("k2", "h2", true),
	}
	if got := Evaluate(Proposal{DedupeKey: "k1", TextHash: "h2"}, recent); got != "" {
		t.Fatalf("blocked entries should not poison later attempts, got %q", got)
	}
}

func TestEvaluateAllowed(t *testing.T) {
	recent := []Entry{entry("k1", "h1", false)}
	if got := Evaluate(Proposal{DedupeKey: "k2", TextHash: "h2"}, recent); got != "" {
		t.Fatalf("expected allowed, got %q", got)
	}
}

func TestEvaluateEmptyProposalFields(t *testing.T) {
	recent := []Entry{entry("", "", false)}
	if got := Evaluate(Proposal{}, recent); got != "" {
		t.Fatalf("empty keys must never match, got %q", got)
	}
}

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint("Hola Mundo ")
	b := Fingerprint("hola mundo")
	if a != b {
		t.Fatalf("fingerprint should normalize case and whitespace")
	}
	if a == Fingerprint("hola", "mundo") {
		t.Fatalf("part boundaries must be preserved")
	}
}
