package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// BlockReason tags why an outbound send was refused. Blocks are expected
// outcomes, not errors: callers log them and move on.
type BlockReason string

const (
	BlockOptOut          BlockReason = "OPT_OUT"
	BlockWindowViolation BlockReason = "WINDOW_VIOLATION"
	BlockDuplicateIntent BlockReason = "DUPLICATE_INTENT"
	BlockRepeatedContent BlockReason = "REPEATED_CONTENT"
)

// DefaultLookback bounds how far back the engine compares prior sends.
const DefaultLookback = 2 * time.Minute

// Entry is one prior send attempt from the outbound log. Blocked entries
// never count as prior matches.
type Entry struct {
	DedupeKey string
	TextHash  string
	Blocked   bool
	CreatedAt time.Time
}

// Proposal describes the send being evaluated.
type Proposal struct {
	DedupeKey string
	TextHash  string
}

// Evaluate returns a block reason when the proposal duplicates a recent
// non-blocked send, or empty string when the send is allowed. The caller
// supplies the recent slice; the engine holds no state of its own.
func Evaluate(p Proposal, recent []Entry) BlockReason {
	for _, e := range recent {
		if e.Blocked {
			continue
		}
		if p.DedupeKey != "" && e.DedupeKey == p.DedupeKey {
			return BlockDuplicateIntent
		}
	}
	for _, e := range recent {
		if e.Blocked {
			continue
		}
		if p.TextHash != "" && e.TextHash == p.TextHash {
			return BlockRepeatedContent
		}
	}
	return ""
}

// Fingerprint hashes the effective outbound payload so repeated content is
// caught even under differing dedupe keys.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(strings.TrimSpace(strings.ToLower(p))))
	}
	return hex.EncodeToString(h.Sum(nil))
}
