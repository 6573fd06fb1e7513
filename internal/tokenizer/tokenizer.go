// Package tokenizer provides the deterministic token costing used for
// quota admission. The estimate only has to be stable, not exact: the same
// payload must always cost the same number of tokens so that admission
// decisions and the audit trail agree.
package tokenizer

// Approximation constants: ~4 bytes per token plus a fixed per-request
// overhead for framing.
const (
	bytesPerToken   = 4
	requestOverhead = 3
)

// Count returns the token cost of a code payload. Empty payloads still cost
// the request overhead.
func Count(code string) int64 {
	return int64(len(code))/bytesPerToken + requestOverhead
}
