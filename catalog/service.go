package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

type Service interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error)
	GetProduct(ctx context.Context, id models.ItemID) (*models.Product, error)
	GetCategoryTree(ctx context.Context) ([]*models.CategoryTree, error)
	// Purchasable returns the product if it exists and has stock left.
	Purchasable(ctx context.Context, id models.ItemID) (*models.Product, error)
}

type service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (s *service) ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	products, err := s.repo.List(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *service) GetProduct(ctx context.Context, id models.ItemID) (*models.Product, error) {
	p, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *service) Purchasable(ctx context.Context, id models.ItemID) (*models.Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.InStock() {
		s.logger.Info("Refused out of stock product", zap.String("product_id", id.String()))
		return nil, ErrOutOfStock
	}
	return p, nil
}

// GetCategoryTree groups the catalog by category then subcategory.
func (s *service) GetCategoryTree(ctx context.Context) ([]*models.CategoryTree, error) {
	products, err := s.repo.List(ctx, nil, models.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return buildCategoryTree(products), nil
}

func buildCategoryTree(products []*models.Product) []*models.CategoryTree {
	nodes := make(map[string]*models.CategoryTree)
	seen := make(map[string]map[string]struct{})
	var names []string

	for _, p := range products {
		node, ok := nodes[p.Category]
		if !ok {
			node = &models.CategoryTree{Name: p.Category}
			nodes[p.Category] = node
			seen[p.Category] = make(map[string]struct{})
			names = append(names, p.Category)
		}
		node.ProductCount++
		if p.Subcategory == "" {
			continue
		}
		if _, dup := seen[p.Category][p.Subcategory]; !dup {
			seen[p.Category][p.Subcategory] = struct{}{}
			node.Subcategories = append(node.Subcategories, p.Subcategory)
		}
	}

	sort.Strings(names)
	tree := make([]*models.CategoryTree, 0, len(names))
	for _, name := range names {
		node := nodes[name]
		sort.Strings(node.Subcategories)
		tree = append(tree, node)
	}
	return tree
}
