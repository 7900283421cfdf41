package extract

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func TestBlockRulesDetect(t *testing.T) {
	t.Parallel()

	rules := BlockRules{
		ChallengeMarkers:  []string{"Robot Check"},
		BlockedPaths:      []string{"/errors/validateCaptcha"},
		HostKeyword:       "amazon",
		StructuralMarkers: []string{"#dp", "#productTitle"},
	}
	product := `<html><body><div id="dp"><span id="productTitle">Kettle</span></div></body></html>`

	tests := []struct {
		name    string
		resp    tracker.FetchResponse
		blocked bool
	}{
		{
			name: "genuine page",
			resp: tracker.FetchResponse{URL: "https://www.amazon.com/dp/B01", StatusCode: http.StatusOK, Body: []byte(product)},
		},
		{
			name:    "throttled",
			resp:    tracker.FetchResponse{URL: "https://www.amazon.com/dp/B01", StatusCode: http.StatusTooManyRequests, Body: []byte(product)},
			blocked: true,
		},
		{
			name:    "captcha redirect",
			resp:    tracker.FetchResponse{URL: "https://www.amazon.com/errors/validateCaptcha", StatusCode: http.StatusOK, Body: []byte(product)},
			blocked: true,
		},
		{
			name:    "off-platform redirect",
			resp:    tracker.FetchResponse{URL: "https://consent.example.net/", StatusCode: http.StatusOK, Body: []byte(product)},
			blocked: true,
		},
		{
			name:    "challenge body",
			resp:    tracker.FetchResponse{URL: "https://www.amazon.com/dp/B01", StatusCode: http.StatusOK, Body: []byte(`<title>robot check</title><div id="dp"></div>`)},
			blocked: true,
		},
		{
			name:    "missing structure",
			resp:    tracker.FetchResponse{URL: "https://www.amazon.com/dp/B01", StatusCode: http.StatusOK, Body: []byte(`<html><body>hello</body></html>`)},
			blocked: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := mustDoc(t, string(tc.resp.Body))
			reason, blocked := rules.Detect(tc.resp, doc)
			require.Equal(t, tc.blocked, blocked, reason)
			if tc.blocked {
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestAvailabilityClassify(t *testing.T) {
	t.Parallel()

	a := AvailabilityRules{
		Unavailable: []string{"currently unavailable", "no longer available"},
		OutOfStock:  []string{"out of stock"},
	}
	tests := []struct {
		text               string
		available, inStock bool
	}{
		{"", true, true},
		{"In Stock.", true, true},
		{"Currently unavailable.", false, false},
		{"Temporarily OUT OF STOCK", true, false},
	}
	for _, tc := range tests {
		available, inStock := a.Classify(tc.text)
		require.Equal(t, tc.available, available, tc.text)
		require.Equal(t, tc.inStock, inStock, tc.text)
	}
}
