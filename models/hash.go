package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ContentHash returns a deterministic fingerprint over a summary's semantic
// fields. The summary is serialized with sorted keys so the digest is
// independent of field order and changes exactly when a field changes.
func ContentHash(summary *ListingSummary) string {
	raw, err := json.Marshal(summary)
	if err != nil {
		return ""
	}

	// Round-trip through a map so keys serialize in sorted order.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return ""
	}

	digest := sha256.Sum256(normalized)
	return hex.EncodeToString(digest[:])
}
