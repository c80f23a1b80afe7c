package tools

import "strings"

// Tier is the safety classification of a tool.
type Tier int

const (
	// TierAuto tools run immediately; they only observe.
	TierAuto Tier = iota + 1
	// TierLog tools run immediately but change something (files, shell,
	// browser state) and are recorded prominently.
	TierLog
	// TierConfirm tools never run without explicit authorization.
	TierConfirm
)

func (t Tier) String() string {
	switch t {
	case TierAuto:
		return "auto"
	case TierLog:
		return "log"
	case TierConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// MarshalText renders the tier name in JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseTier maps a tier name to a Tier. Anything unrecognized is
// treated as [TierConfirm].
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return TierAuto
	case "log":
		return TierLog
	default:
		return TierConfirm
	}
}
