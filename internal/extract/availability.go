package extract

import "strings"

// AvailabilityRules classifies availability text into listing and stock state.
type AvailabilityRules struct {
	// Unavailable markers mean the listing itself is gone.
	Unavailable []string
	// OutOfStock markers mean the listing exists but cannot be bought now.
	OutOfStock []string
}

// Classify reports whether the listing is available and in stock. Missing
// text is read as both.
func (a AvailabilityRules) Classify(text string) (available bool, inStock bool) {
	lower := strings.ToLower(text)
	if lower == "" {
		return true, true
	}
	if containsAny(lower, a.Unavailable) {
		return false, false
	}
	if containsAny(lower, a.OutOfStock) {
		return true, false
	}
	return true, true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
