package service

import (
	"context"
	"fmt"
	"sort"
)

// CatalogLister is the slice of the media store the catalog needs.
type CatalogLister interface {
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// CatalogService discovers garment categories and models by listing the
// models/ prefix in the object store. The catalog is read-only here;
// authoring happens out of band.
type CatalogService struct {
	store CatalogLister
}

func NewCatalogService(store CatalogLister) *CatalogService {
	return &CatalogService{store: store}
}

func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.store.ListPrefixes(ctx, "models/")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *CatalogService) Models(ctx context.Context, category string) ([]string, error) {
	names, err := s.store.ListKeys(ctx, "models/"+category)
	if err != nil {
		return nil, fmt.Errorf("list models in %s: %w", category, err)
	}
	sort.Strings(names)
	return names, nil
}
