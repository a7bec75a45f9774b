package session

import (
	"strings"
	"vitals-station/internal/models"
)

// Kind classifies a session row.
type Kind int

const (
	// KindPlaceholder is a session with no bound identity, awaiting an
	// identification event.
	KindPlaceholder Kind = iota
	// KindBound is a session carrying a resolved idcard.
	KindBound
)

// KindOf classifies a session row. A row flagged temporary counts as a
// placeholder even when an idcard lingers on it.
func KindOf(s *models.ActiveSession) Kind {
	if s == nil {
		return KindPlaceholder
	}
	if s.IsTemp || NormalizeIdcard(s.Idcard) == "" {
		return KindPlaceholder
	}
	return KindBound
}

// KeepMeasurements decides whether vitals already recorded on a reused row
// survive a rebind to the incoming idcard. Values captured against a
// placeholder belong to whoever identifies next; values bound to a different
// patient must not leak onto the new one.
func KeepMeasurements(existing *models.ActiveSession, incomingIdcard string) bool {
	if existing == nil {
		return false
	}
	if KindOf(existing) == KindPlaceholder {
		return true
	}
	return NormalizeIdcard(existing.Idcard) == NormalizeIdcard(incomingIdcard)
}

// NormalizeIdcard trims and upper-cases an idcard. Known transport artifacts
// for "no card" collapse to the empty string.
func NormalizeIdcard(idcard string) string {
	trimmed := strings.TrimSpace(idcard)
	if trimmed == "" {
		return ""
	}
	switch strings.ToLower(trimmed) {
	case "null", "stringisnullorempty":
		return ""
	}
	return strings.ToUpper(trimmed)
}
