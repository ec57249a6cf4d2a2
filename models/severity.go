package models

import "strings"

// Severity is the canonical four-level scale every analyzer converges on.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists the canonical levels from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Weight returns a numeric weight for sorting (higher = more severe).
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// Valid reports whether s is one of the four canonical levels.
func (s Severity) Valid() bool {
	return s.Weight() > 0
}

// Escalate returns the more severe of s and to. It never lowers s.
func (s Severity) Escalate(to Severity) Severity {
	if to.Weight() > s.Weight() {
		return to
	}
	return s
}

// ParseSeverity normalises a tool's raw severity string. Matching ignores
// case and surrounding whitespace; unknown values map to medium.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "4":
		return SeverityCritical
	case "high", "error", "3":
		return SeverityHigh
	case "medium", "warning", "2":
		return SeverityMedium
	case "low", "info", "1":
		return SeverityLow
	default:
		return SeverityMedium
	}
}
