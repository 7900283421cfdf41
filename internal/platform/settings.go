package platform

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// HeadlessMode selects when pages are rendered in a headless browser.
type HeadlessMode string

// Headless modes.
const (
	HeadlessOff    HeadlessMode = "off"
	HeadlessAuto   HeadlessMode = "auto"
	HeadlessAlways HeadlessMode = "always"
)

// Promoter decides whether a plain response needs a headless render.
type Promoter interface {
	ShouldPromote(resp tracker.FetchResponse) bool
}

// PageArchiver stores pages that could not be extracted.
type PageArchiver interface {
	Save(ctx context.Context, platform, reason string, body []byte) (string, error)
}

// Settings are shared by every extractor the resolver builds.
type Settings struct {
	Headless        HeadlessMode
	Proxy           string
	Headers         http.Header
	Fetcher         tracker.Fetcher
	HeadlessFetcher tracker.Fetcher
	Promoter        Promoter
	Limiter         tracker.Limiter
	Archive         PageArchiver
	Clock           tracker.Clock
	Logger          *zap.Logger
}

// DefaultHeaders mirror a desktop browser.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return h
}

func (s Settings) withDefaults() Settings {
	if s.Headless == "" {
		s.Headless = HeadlessOff
	}
	if s.Headers == nil {
		s.Headers = DefaultHeaders()
	}
	if s.Clock == nil {
		s.Clock = system.New()
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return s
}
