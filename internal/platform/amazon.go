package platform

import "github.com/JakeFAU/realtime-price-tracker/internal/extract"

// Amazon describes amazon.* product pages.
func Amazon() Definition {
	return Definition{
		Name:         "amazon",
		HostKeywords: []string{"amazon"},
		Rules: extract.RuleSet{
			extract.FieldName: extract.Rules(
				"#productTitle",
				"#title",
				".a-size-large.product-title-word-break",
				".a-size-medium.a-color-base.a-text-normal",
				".a-size-base-plus.a-color-base.a-text-normal",
			),
			extract.FieldPrice: extract.Rules(
				".priceToPay .a-offscreen",
				"#corePrice_feature_div .a-price .a-offscreen",
				".a-price-whole",
				"#priceblock_ourprice",
				"#priceblock_dealprice",
				".a-color-price",
				".priceToPay",
			),
			extract.FieldOriginalPrice: extract.Rules(
				".basisPrice .a-offscreen",
				".a-text-price .a-offscreen",
				"#listPrice",
			),
			extract.FieldAvailability: extract.Rules("#availability", "#outOfStock"),
			extract.FieldImage:        extract.Rules("#landingImage@data-old-hires", "#landingImage@src", "#imgBlkFront@src"),
			extract.FieldSeller:       extract.Rules("#sellerProfileTriggerId", "#merchant-info a", "#merchant-info"),
		},
		Block: extract.BlockRules{
			ChallengeMarkers: []string{
				"Enter the characters you see below",
				"<title dir=\"ltr\">Robot Check</title>",
				"api-services-support@amazon.com",
			},
			BlockedPaths:      []string{"/errors/validatecaptcha", "/ap/signin"},
			HostKeyword:       "amazon",
			StructuralMarkers: []string{"#dp", "#ppd", "#productTitle", "#title"},
		},
		Availability: extract.AvailabilityRules{
			Unavailable: []string{"currently unavailable", "no longer available"},
			OutOfStock:  []string{"out of stock", "temporarily out of stock"},
		},
		Currency: "USD",
	}
}
