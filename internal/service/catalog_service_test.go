package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLister struct {
	prefixes map[string][]string
	keys     map[string][]string
}

func (l *stubLister) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	return l.prefixes[prefix], nil
}

func (l *stubLister) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return l.keys[prefix], nil
}

func TestCatalogCategoriesAreSorted(t *testing.T) {
	svc := NewCatalogService(&stubLister{
		prefixes: map[string][]string{"models/": {"tops", "dresses", "jackets"}},
	})

	categories, err := svc.Categories(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"dresses", "jackets", "tops"}, categories)
}

func TestCatalogModelsListedByCategory(t *testing.T) {
	svc := NewCatalogService(&stubLister{
		keys: map[string][]string{"models/tops": {"shirt_red", "shirt_blue"}},
	})

	names, err := svc.Models(context.Background(), "tops")
	require.NoError(t, err)
	require.Equal(t, []string{"shirt_blue", "shirt_red"}, names)
}
