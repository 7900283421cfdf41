package platform

import "github.com/JakeFAU/realtime-price-tracker/internal/extract"

// Ebay describes ebay.* item pages.
func Ebay() Definition {
	return Definition{
		Name:         "ebay",
		HostKeywords: []string{"ebay"},
		Rules: extract.RuleSet{
			extract.FieldName: extract.Rules(
				".x-item-title__mainTitle",
				"#itemTitle",
				".product-title",
			),
			extract.FieldPrice: extract.Rules(
				".x-price-primary",
				"[itemprop=price]@content",
				"[itemprop=price]",
				".display-price",
			),
			extract.FieldOriginalPrice: extract.Rules(".x-original-price", ".strikethrough"),
			extract.FieldAvailability:  extract.Rules(".d-quantity__availability", "#qtySubTxt", ".d-statusmessage"),
			extract.FieldImage:         extract.Rules(".ux-image-carousel-item img@src", "#icImg@src"),
			extract.FieldSeller:        extract.Rules(".x-sellercard-atf__info__about-seller", ".mbg-nw"),
			extract.FieldCurrency:      extract.Rules("[itemprop=priceCurrency]@content"),
		},
		Block: extract.BlockRules{
			ChallengeMarkers:  []string{"Pardon Our Interruption", "splashui/challenge"},
			BlockedPaths:      []string{"/splashui/"},
			HostKeyword:       "ebay",
			StructuralMarkers: []string{".x-item-title", "#itemTitle", ".x-price-primary", "[itemprop=price]"},
		},
		Availability: extract.AvailabilityRules{
			Unavailable: []string{"this listing has ended", "no longer available"},
			OutOfStock:  []string{"out of stock", "sold out"},
		},
		Currency: "USD",
	}
}
