// Package archive keeps copies of product pages that failed extraction so
// selector rules can be repaired against real markup.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const contentType = "text/html; charset=utf-8"

// Archive writes pages to a blob store under content-addressed paths.
type Archive struct {
	store  tracker.BlobStore
	hasher tracker.Hasher
	clock  tracker.Clock
	prefix string
}

// New builds an Archive.
func New(store tracker.BlobStore, hasher tracker.Hasher, clock tracker.Clock, prefix string) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("archive: blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("archive: hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("archive: clock is required")
	}
	return &Archive{
		store:  store,
		hasher: hasher,
		clock:  clock,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Save stores body and returns its URI.
func (a *Archive) Save(ctx context.Context, platform, reason string, body []byte) (string, error) {
	hash, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	path := a.path(platform, reason, hash)
	uri, err := a.store.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put page %s: %w", path, err)
	}
	return uri, nil
}

func (a *Archive) path(platform, reason, hash string) string {
	day := a.clock.Now().UTC().Format("2006/01/02")
	parts := []string{platform, reason, day, hash + ".html"}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}
