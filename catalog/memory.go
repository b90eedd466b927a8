package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"goflare.io/storefront/models"
)

//go:embed products.yaml
var seedYAML []byte

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Price       decimal.Decimal `yaml:"price"`
	Image       string          `yaml:"image"`
	Category    string          `yaml:"category"`
	Subcategory string          `yaml:"subcategory"`
	Rating      float64         `yaml:"rating"`
	Stock       int             `yaml:"stock"`
}

// SeedProducts returns the built-in catalog.
func SeedProducts() ([]*models.Product, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse product seed: %w", err)
	}

	now := time.Now().UTC()
	products := make([]*models.Product, 0, len(f.Products))
	for _, p := range f.Products {
		products = append(products, &models.Product{
			ID:          models.ItemID(p.ID),
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Image:       p.Image,
			Category:    p.Category,
			Subcategory: p.Subcategory,
			Rating:      p.Rating,
			Stock:       p.Stock,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return products, nil
}

// Seed inserts the built-in products that repo does not have yet. Existing rows
// keep their stock.
func Seed(ctx context.Context, repo Repository) error {
	products, err := SeedProducts()
	if err != nil {
		return err
	}
	for _, p := range products {
		_, err = repo.GetByID(ctx, nil, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to check product %s: %w", p.ID, err)
		}
		if err = repo.Upsert(ctx, nil, p); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps the catalog in process. tx arguments are ignored.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[models.ItemID]*models.Product
	order    []models.ItemID
}

func NewMemoryRepository(products ...*models.Product) *MemoryRepository {
	m := &MemoryRepository{products: make(map[models.ItemID]*models.Product)}
	for _, p := range products {
		_ = m.Upsert(context.Background(), nil, p)
	}
	return m
}

func (m *MemoryRepository) List(_ context.Context, _ pgx.Tx, filter models.ProductFilter) ([]*models.Product, error) {
	category, subcategory := normalizeFilter(filter.Category), normalizeFilter(filter.Subcategory)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Product, 0, len(m.order))
	for _, id := range m.order {
		p := m.products[id]
		if category != "" && p.Category != category {
			continue
		}
		if subcategory != "" && p.Subcategory != subcategory {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	if filter.Offset >= uint64(len(out)) {
		return []*models.Product{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < uint64(len(out)) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, _ pgx.Tx, id models.ItemID) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, _ pgx.Tx, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *product
	if _, ok := m.products[cp.ID]; !ok {
		m.order = append(m.order, cp.ID)
		sort.SliceStable(m.order, func(i, j int) bool {
			a, b := m.order[i], m.order[j]
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return a < b
		})
	}
	m.products[cp.ID] = &cp
	return nil
}

func (m *MemoryRepository) AdjustStock(_ context.Context, _ pgx.Tx, id models.ItemID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.Stock+delta < 0 {
		return ErrOutOfStock
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	return nil
}
