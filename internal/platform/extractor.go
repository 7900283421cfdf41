package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/extract"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Extractor turns a marketplace product URL into a structured snapshot.
type Extractor interface {
	Platform() string
	// Fetch retrieves the page. Errors are *tracker.Failure values.
	Fetch(ctx context.Context, rawURL string) (tracker.FetchResponse, error)
	// Extract checks the page for blocking and reads the product fields.
	// Errors are *tracker.Failure values.
	Extract(ctx context.Context, resp tracker.FetchResponse) (tracker.ProductSnapshot, error)
}

// FetchAndExtract runs both stages of an extractor.
func FetchAndExtract(ctx context.Context, e Extractor, rawURL string) (tracker.ProductSnapshot, error) {
	resp, err := e.Fetch(ctx, rawURL)
	if err != nil {
		return tracker.ProductSnapshot{}, err
	}
	return e.Extract(ctx, resp)
}

// Definition is the declarative description of one marketplace.
type Definition struct {
	Name         string
	HostKeywords []string
	Rules        extract.RuleSet
	Block        extract.BlockRules
	Availability extract.AvailabilityRules
	Currency     string
}

// Registration returns the binding that builds a RuleExtractor for d.
func (d Definition) Registration() Registration {
	return Registration{
		Platform:     d.Name,
		HostKeywords: d.HostKeywords,
		New: func(s Settings) Extractor {
			return NewRuleExtractor(d, s)
		},
	}
}

// RuleExtractor implements Extractor by interpreting a Definition.
type RuleExtractor struct {
	def      Definition
	settings Settings
	logger   *zap.Logger
}

// NewRuleExtractor builds an extractor for the definition.
func NewRuleExtractor(def Definition, settings Settings) *RuleExtractor {
	settings = settings.withDefaults()
	return &RuleExtractor{
		def:      def,
		settings: settings,
		logger:   settings.Logger.With(zap.String("platform", def.Name)),
	}
}

// Platform returns the marketplace name.
func (e *RuleExtractor) Platform() string {
	return e.def.Name
}

// Fetch retrieves the page, promoting to the headless fetcher when the
// settings ask for it.
func (e *RuleExtractor) Fetch(ctx context.Context, rawURL string) (tracker.FetchResponse, error) {
	if e.settings.Limiter != nil {
		if err := e.settings.Limiter.Wait(ctx, rawURL); err != nil {
			return tracker.FetchResponse{}, tracker.ClassifyFetchError(ctx, err)
		}
	}
	req := tracker.FetchRequest{
		URL:     rawURL,
		Headers: e.settings.Headers.Clone(),
		Proxy:   e.settings.Proxy,
	}
	primary := e.settings.Fetcher
	if e.settings.Headless == HeadlessAlways && e.settings.HeadlessFetcher != nil {
		primary = e.settings.HeadlessFetcher
	}
	if primary == nil {
		return tracker.FetchResponse{}, tracker.NewFailure(tracker.KindNetwork, tracker.StageFetching,
			errors.New("no fetcher configured"))
	}
	resp, err := primary.Fetch(ctx, req)
	if err != nil {
		return tracker.FetchResponse{}, tracker.ClassifyFetchError(ctx, fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	if e.shouldPromote(resp) {
		rendered, err := e.settings.HeadlessFetcher.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return tracker.FetchResponse{}, tracker.ClassifyFetchError(ctx, fmt.Errorf("headless fetch %s: %w", rawURL, err))
			}
			e.logger.Warn("headless promotion failed; using plain response", zap.String("url", rawURL), zap.Error(err))
		} else {
			resp = rendered
		}
	}
	if resp.StatusCode >= http.StatusBadRequest && !e.blockedStatus(resp.StatusCode) {
		return tracker.FetchResponse{}, tracker.NewFailure(tracker.KindNetwork, tracker.StageFetching,
			fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode))
	}
	return resp, nil
}

func (e *RuleExtractor) shouldPromote(resp tracker.FetchResponse) bool {
	if e.settings.Headless != HeadlessAuto || e.settings.HeadlessFetcher == nil || e.settings.Promoter == nil {
		return false
	}
	return !resp.UsedHeadless && e.settings.Promoter.ShouldPromote(resp)
}

func (e *RuleExtractor) blockedStatus(code int) bool {
	statuses := e.def.Block.BlockedStatuses
	if len(statuses) == 0 {
		statuses = extract.DefaultBlockedStatuses
	}
	for _, s := range statuses {
		if s == code {
			return true
		}
	}
	return false
}

// Extract detects block pages, applies the field rules and validates that
// name and price are present.
func (e *RuleExtractor) Extract(ctx context.Context, resp tracker.FetchResponse) (tracker.ProductSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return tracker.ProductSnapshot{}, tracker.NewFailure(tracker.KindIncompleteData, tracker.StageExtracting,
			fmt.Errorf("parse %s page: %w", e.def.Name, err))
	}
	if reason, blocked := e.def.Block.Detect(resp, doc); blocked {
		e.archive(ctx, "blocked", resp)
		return tracker.ProductSnapshot{}, tracker.NewFailure(tracker.KindBlocked, tracker.StageExtracting,
			fmt.Errorf("%s blocked the request: %s", e.def.Name, reason))
	}

	fields := e.def.Rules.Apply(doc)
	name := fields[extract.FieldName]
	price, hasPrice := extract.NormalizePrice(fields[extract.FieldPrice])
	var missing []string
	if name == "" {
		missing = append(missing, string(extract.FieldName))
	}
	if !hasPrice {
		missing = append(missing, string(extract.FieldPrice))
	}
	if len(missing) > 0 {
		e.archive(ctx, "incomplete", resp)
		return tracker.ProductSnapshot{}, tracker.NewFailure(tracker.KindIncompleteData, tracker.StageExtracting,
			fmt.Errorf("%s page missing %s", e.def.Name, strings.Join(missing, ", ")))
	}

	snap := tracker.ProductSnapshot{
		Name:           name,
		Price:          price,
		Availability:   fields[extract.FieldAvailability],
		ImageURL:       absoluteURL(resp.URL, fields[extract.FieldImage]),
		Seller:         fields[extract.FieldSeller],
		Currency:       e.currency(fields[extract.FieldCurrency]),
		SourcePlatform: e.def.Name,
		ObservedAt:     e.settings.Clock.Now(),
	}
	if orig, ok := extract.NormalizePrice(fields[extract.FieldOriginalPrice]); ok {
		snap.OriginalPrice = &orig
	}
	snap.Available, snap.InStock = e.def.Availability.Classify(snap.Availability)
	return snap, nil
}

func (e *RuleExtractor) currency(found string) string {
	found = strings.ToUpper(strings.TrimSpace(found))
	if len(found) == 3 {
		return found
	}
	if e.def.Currency != "" {
		return e.def.Currency
	}
	return tracker.DefaultCurrency
}

func (e *RuleExtractor) archive(ctx context.Context, reason string, resp tracker.FetchResponse) {
	if e.settings.Archive == nil || len(resp.Body) == 0 {
		return
	}
	uri, err := e.settings.Archive.Save(ctx, e.def.Name, reason, resp.Body)
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	e.logger.Info("archived page", zap.String("reason", reason), zap.String("url", resp.URL), zap.String("uri", uri))
}

func absoluteURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
