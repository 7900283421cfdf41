// Package collyfetcher retrieves product pages over plain HTTP with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps the bytes read per page; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher implements tracker.Fetcher. Non-2xx pages are returned as normal
// responses so block detection can inspect them.
type Fetcher struct {
	cfg  Config
	base *colly.Collector

	mu         sync.Mutex
	transports map[string]*http.Transport
}

var _ tracker.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodySize))
	}
	return &Fetcher{
		cfg:        cfg,
		base:       colly.NewCollector(opts...),
		transports: make(map[string]*http.Transport),
	}
}

// Fetch performs one GET. A proxy on the request routes it through a
// dedicated pooled transport for that proxy.
func (f *Fetcher) Fetch(ctx context.Context, req tracker.FetchRequest) (tracker.FetchResponse, error) {
	transport, err := f.transportFor(req.Proxy)
	if err != nil {
		return tracker.FetchResponse{}, err
	}
	c := f.base.Clone()
	c.Context = ctx
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}

	var (
		result   tracker.FetchResponse
		fetchErr error
		start    = time.Now()
	)
	c.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	c.OnResponse(func(r *colly.Response) {
		result = tracker.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(req.URL)
	}()
	select {
	case <-ctx.Done():
		return tracker.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return tracker.FetchResponse{}, fmt.Errorf("colly visit %s: %w", req.URL, err)
		}
		if fetchErr != nil {
			return tracker.FetchResponse{}, fmt.Errorf("colly response %s: %w", req.URL, fetchErr)
		}
		if result.StatusCode == 0 {
			return tracker.FetchResponse{}, fmt.Errorf("colly fetch %s: no response received", req.URL)
		}
		return result, nil
	}
}

func (f *Fetcher) transportFor(proxy string) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[proxy]; ok {
		return t, nil
	}
	t := newHTTPTransport()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", proxy)
		}
		t.Proxy = http.ProxyURL(u)
	}
	f.transports[proxy] = t
	return t, nil
}

// Close releases idle connections held by every transport.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
