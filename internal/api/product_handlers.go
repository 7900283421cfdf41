package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	lookupTimeout       = 3 * time.Second
)

// productHandler exposes read-only product state.
type productHandler struct {
	products tracker.ProductStore
	clock    tracker.Clock
	window   time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func newProductHandler(products tracker.ProductStore, clock tracker.Clock, window time.Duration, logger *zap.Logger) *productHandler {
	return &productHandler{
		products: products,
		clock:    clock,
		window:   window,
		timeout:  lookupTimeout,
		logger:   logger,
	}
}

// GetProduct handles GET /v1/products/{product_id}. It returns {"product":
// {...}}, 400 for malformed ids, 404 for unknown products and 500 otherwise.
func (h *productHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("get product failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": toProductDTO(product)})
}

// ListHistory handles GET /v1/products/{product_id}/history?since=&limit=.
// since is RFC 3339 and defaults to the analysis window; the newest snapshots
// are returned first.
func (h *productHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := h.clock.Now().Add(-h.window)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snaps, err := h.products.ListSnapshots(ctx, productID, since)
	if err != nil {
		h.logger.Error("list snapshots failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ObservedAt.After(snaps[j].ObservedAt) })
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": toSnapshotDTOs(snaps)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toProductDTO(p tracker.Product) productDTO {
	return productDTO{
		ID:           p.ID,
		Name:         p.Name,
		URL:          p.URL,
		TargetPrice:  p.TargetPrice,
		CurrentPrice: p.CurrentPrice,
		Currency:     p.Currency,
		Active:       p.Active,
		LastChecked:  p.LastChecked,
	}
}

func toSnapshotDTOs(in []tracker.PriceSnapshot) []snapshotDTO {
	out := make([]snapshotDTO, 0, len(in))
	for _, s := range in {
		out = append(out, snapshotDTO{
			Price:      s.Price,
			Currency:   s.Currency,
			Available:  s.Available,
			InStock:    s.InStock,
			Source:     s.Source,
			ObservedAt: s.ObservedAt,
		})
	}
	return out
}

type productDTO struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	TargetPrice  float64    `json:"target_price"`
	CurrentPrice *float64   `json:"current_price,omitempty"`
	Currency     string     `json:"currency"`
	Active       bool       `json:"active"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
}

type snapshotDTO struct {
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Available  bool      `json:"available"`
	InStock    bool      `json:"in_stock"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}
