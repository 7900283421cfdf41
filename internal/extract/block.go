package extract

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// DefaultBlockedStatuses are response codes marketplaces answer bots with.
var DefaultBlockedStatuses = []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable}

// BlockRules describe what an anti-bot response looks like for a platform.
type BlockRules struct {
	BlockedStatuses []int
	// ChallengeMarkers are case-insensitive body substrings of challenge pages.
	ChallengeMarkers []string
	// BlockedPaths are final-URL path fragments of interstitial pages.
	BlockedPaths []string
	// HostKeyword must stay in the final host after redirects.
	HostKeyword string
	// StructuralMarkers are selectors of which at least one must match on a
	// genuine product page.
	StructuralMarkers []string
}

// Detect reports whether the response is a block page and why.
func (b BlockRules) Detect(resp tracker.FetchResponse, doc *goquery.Document) (string, bool) {
	statuses := b.BlockedStatuses
	if len(statuses) == 0 {
		statuses = DefaultBlockedStatuses
	}
	for _, code := range statuses {
		if resp.StatusCode == code {
			return "status " + http.StatusText(code), true
		}
	}
	if reason, ok := b.redirected(resp.URL); ok {
		return reason, true
	}
	body := strings.ToLower(string(resp.Body))
	for _, marker := range b.ChallengeMarkers {
		if marker != "" && strings.Contains(body, strings.ToLower(marker)) {
			return "challenge marker " + marker, true
		}
	}
	if len(b.StructuralMarkers) > 0 && doc != nil && !anySelectorMatches(doc, b.StructuralMarkers) {
		return "missing structural markers", true
	}
	return "", false
}

func (b BlockRules) redirected(finalURL string) (string, bool) {
	if finalURL == "" {
		return "", false
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return "", false
	}
	if b.HostKeyword != "" && u.Hostname() != "" &&
		!strings.Contains(strings.ToLower(u.Hostname()), strings.ToLower(b.HostKeyword)) {
		return "redirected off platform to " + u.Hostname(), true
	}
	path := strings.ToLower(u.Path)
	for _, p := range b.BlockedPaths {
		if p != "" && strings.Contains(path, strings.ToLower(p)) {
			return "redirected to " + u.Path, true
		}
	}
	return "", false
}

func anySelectorMatches(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
