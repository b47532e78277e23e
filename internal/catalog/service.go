package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// Service exposes catalog reads to handlers and to the order drafts.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs the catalog service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Snapshot builds an engine snapshot for codes from cached data. Unknown and
// inactive items are left out so the engine reports them as unknown.
func (s *Service) Snapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error) {
	items, err := s.cache.Items(ctx, distinct(codes), s.repo.GetMany)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot: %w", err)
	}
	return toSnapshot(items), nil
}

// FreshSnapshot reads stock straight from the database, bypassing the cache.
// Used for the final check before submission.
func (s *Service) FreshSnapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error) {
	items, err := s.repo.GetMany(ctx, distinct(codes))
	if err != nil {
		return nil, fmt.Errorf("catalog fresh snapshot: %w", err)
	}
	return toSnapshot(items), nil
}

// Get returns a single item.
func (s *Service) Get(ctx context.Context, code string) (Item, error) {
	items, err := s.cache.Items(ctx, []string{code}, s.repo.GetMany)
	if err != nil {
		return Item{}, fmt.Errorf("get catalog item: %w", err)
	}
	for _, item := range items {
		if item.Code == code {
			return item, nil
		}
	}
	return Item{}, ErrNotFound
}

// List returns a page of catalog items.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	return s.repo.List(ctx, filter)
}

// LowStock lists active items at or below threshold.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]Item, error) {
	return s.repo.ListLowStock(ctx, threshold, 0)
}

// Invalidate drops cached items after stock moved.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("catalog cache bump", slog.Any("error", err))
	}
}

func toSnapshot(items []Item) pricing.MapSnapshot {
	snap := make(pricing.MapSnapshot, len(items))
	for _, item := range items {
		if !item.Active {
			continue
		}
		snap[item.Code] = item.CatalogItem()
	}
	return snap
}

func distinct(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
