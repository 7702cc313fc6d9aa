// Package canon holds the deterministic canonicalization rules applied to
// every requirements record: priority labels, metric names, order-preserving
// list dedup, and the content-addressed record ID.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Priority levels. NormalizePriority never returns anything else.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var (
	highMarkers   = []string{"high", "urgent", "critical", "blocker", "highest"}
	lowMarkers    = []string{"low", "minor", "trivial"}
	mediumMarkers = []string{"medium", "med", "normal"}
)

// NormalizePriority maps a free-form priority string to low|medium|high.
//
// Numeric codes are checked first (1/P0/P1 -> high, 2/P2 -> medium,
// 3/4/P3/P4 -> low), then keyword containment in high -> low -> medium
// precedence order. Empty or unmatched input defaults to medium.
func NormalizePriority(value string) string {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return PriorityMedium
	}

	switch text {
	case "1", "p0", "p1":
		return PriorityHigh
	case "2", "p2":
		return PriorityMedium
	case "3", "4", "p3", "p4":
		return PriorityLow
	}

	if containsAny(text, highMarkers) {
		return PriorityHigh
	}
	if containsAny(text, lowMarkers) {
		return PriorityLow
	}
	if containsAny(text, mediumMarkers) {
		return PriorityMedium
	}

	// Default to medium when unclear.
	return PriorityMedium
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// CanonicalizeMetric returns the canonical form of a metric name: trimmed,
// lowercased, with a trailing "seconds" or "sec" suffix collapsed to "s"
// (e.g. "startup_seconds" -> "startup_s").
func CanonicalizeMetric(metric string) string {
	text := strings.ToLower(strings.TrimSpace(metric))
	if text == "" {
		return ""
	}

	if rest, ok := strings.CutSuffix(text, "seconds"); ok {
		return rest + "s"
	}
	if rest, ok := strings.CutSuffix(text, "sec"); ok {
		return rest + "s"
	}
	return text
}

// ComputeID derives the content-addressed requirements ID from a raw data
// mapping and an optional trace ID.
//
// The id and meta keys are excluded so re-hashing the same content always
// yields the same ID. The remaining data is serialized as key-sorted,
// separator-minimal JSON, hashed with SHA-256 (the trace ID, when present,
// is mixed in as a "|"-prefixed segment), and the first 10 hex characters
// form "req-<hex>". The result is bit-for-bit reproducible for identical
// inputs.
func ComputeID(data map[string]any, traceID string) string {
	trimmed := make(map[string]any, len(data))
	for key, value := range data {
		if key == "id" || key == "meta" {
			continue
		}
		trimmed[key] = value
	}

	// encoding/json already emits sorted map keys with no extra whitespace,
	// which is exactly the canonical form required here.
	canonical, err := json.Marshal(trimmed)
	if err != nil {
		// Maps holding only JSON-decoded values cannot fail to marshal;
		// hash the error text so the ID is still deterministic.
		canonical = []byte(err.Error())
	}

	hasher := sha256.New()
	hasher.Write(canonical)
	if traceID != "" {
		hasher.Write([]byte("|"))
		hasher.Write([]byte(traceID))
	}
	digest := hex.EncodeToString(hasher.Sum(nil))
	return "req-" + digest[:10]
}

// DedupeStrings removes duplicate values (case-sensitive exact match) while
// preserving the order of first occurrence.
func DedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		result = append(result, value)
	}
	return result
}
