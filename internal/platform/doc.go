// Package platform binds marketplaces to rule-driven extractors and resolves
// a product URL to the extractor for its marketplace.
package platform
