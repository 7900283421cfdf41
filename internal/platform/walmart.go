package platform

import "github.com/JakeFAU/realtime-price-tracker/internal/extract"

// Walmart describes walmart.* product pages.
func Walmart() Definition {
	return Definition{
		Name:         "walmart",
		HostKeywords: []string{"walmart"},
		Rules: extract.RuleSet{
			extract.FieldName: extract.Rules(
				"[data-automation=product-title]",
				"#main-title",
				".prod-ProductTitle",
				"[itemprop=name]",
			),
			extract.FieldPrice: extract.Rules(
				"[itemprop=price]@content",
				"[itemprop=price]",
				"[data-automation=price-current]",
				".price-characteristic@content",
				".price-characteristic",
			),
			extract.FieldOriginalPrice: extract.Rules("[data-automation=was-price]", ".price-old", ".strike-through"),
			extract.FieldAvailability:  extract.Rules("[data-automation=fulfillment-summary]", ".prod-ProductOffer-oosMsg"),
			extract.FieldImage:         extract.Rules("[data-testid=hero-image-container] img@src", ".prod-hero-image img@src"),
			extract.FieldSeller:        extract.Rules("[data-testid=product-seller-info]", ".seller-name"),
			extract.FieldCurrency:      extract.Rules("[itemprop=priceCurrency]@content"),
		},
		Block: extract.BlockRules{
			ChallengeMarkers:  []string{"Robot or human?", "px-captcha"},
			BlockedPaths:      []string{"/blocked"},
			HostKeyword:       "walmart",
			StructuralMarkers: []string{"[data-automation=product-title]", "#main-title", ".prod-ProductTitle", "[itemprop=name]"},
		},
		Availability: extract.AvailabilityRules{
			Unavailable: []string{"not available", "no longer available"},
			OutOfStock:  []string{"out of stock"},
		},
		Currency: "USD",
	}
}
