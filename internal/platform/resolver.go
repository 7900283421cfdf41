package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// ErrUnsupportedPlatform reports a URL whose host matches no registration.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Registration binds host keywords to an extractor constructor.
type Registration struct {
	Platform     string
	HostKeywords []string
	New          func(Settings) Extractor
}

// Resolver maps product URLs to extractors using an explicit registration
// table. Extractors are built once per platform and shared.
type Resolver struct {
	mu         sync.RWMutex
	settings   Settings
	regs       []Registration
	extractors map[string]Extractor
}

// NewResolver builds a resolver over the given registrations. Invalid or
// duplicate registrations are rejected.
func NewResolver(settings Settings, regs ...Registration) (*Resolver, error) {
	r := &Resolver{
		settings:   settings.withDefaults(),
		extractors: make(map[string]Extractor),
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a platform binding.
func (r *Resolver) Register(reg Registration) error {
	name := strings.ToLower(strings.TrimSpace(reg.Platform))
	if name == "" {
		return fmt.Errorf("register platform: name is required")
	}
	if reg.New == nil {
		return fmt.Errorf("register platform %s: constructor is required", name)
	}
	keywords := make([]string, 0, len(reg.HostKeywords))
	for _, kw := range reg.HostKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return fmt.Errorf("register platform %s: at least one host keyword is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.regs {
		if existing.Platform == name {
			return fmt.Errorf("register platform %s: already registered", name)
		}
	}
	r.regs = append(r.regs, Registration{Platform: name, HostKeywords: keywords, New: reg.New})
	return nil
}

// Platforms lists registered platform names in registration order.
func (r *Resolver) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.Platform)
	}
	return out
}

// Resolve returns the extractor for the URL's host. Unknown hosts yield a
// permanent UnsupportedPlatform failure wrapping ErrUnsupportedPlatform.
func (r *Resolver) Resolve(rawURL string) (Extractor, error) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, tracker.NewFailure(tracker.KindUnsupportedPlatform, tracker.StagePending,
			fmt.Errorf("%w: no host in %q", ErrUnsupportedPlatform, rawURL))
	}

	r.mu.RLock()
	reg, ok := r.match(host)
	ext := r.extractors[reg.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, tracker.NewFailure(tracker.KindUnsupportedPlatform, tracker.StagePending,
			fmt.Errorf("%w: %s", ErrUnsupportedPlatform, host))
	}
	if ext != nil {
		return ext, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ext = r.extractors[reg.Platform]; ext == nil {
		ext = reg.New(r.settings)
		r.extractors[reg.Platform] = ext
	}
	return ext, nil
}

func (r *Resolver) match(host string) (Registration, bool) {
	for _, reg := range r.regs {
		for _, kw := range reg.HostKeywords {
			if strings.Contains(host, kw) {
				return reg, true
			}
		}
	}
	return Registration{}, false
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
