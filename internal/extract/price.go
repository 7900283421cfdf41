package extract

import (
	"regexp"

	"github.com/shopspring/decimal"
)

var priceNoise = regexp.MustCompile(`[^\d.]`)

// NormalizePrice strips everything except digits and the decimal point and
// parses the remainder. Text that does not parse to a positive amount reports
// ok=false so the caller treats the field as absent.
func NormalizePrice(raw string) (float64, bool) {
	cleaned := priceNoise.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
