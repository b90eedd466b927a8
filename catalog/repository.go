package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/cache"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var (
	ErrNotFound   = errors.New("catalog: product not found")
	ErrOutOfStock = errors.New("catalog: product out of stock")
)

var _ Repository = (*repository)(nil)

type Repository interface {
	List(ctx context.Context, tx pgx.Tx, filter models.ProductFilter) ([]*models.Product, error)
	GetByID(ctx context.Context, tx pgx.Tx, id models.ItemID) (*models.Product, error)
	Upsert(ctx context.Context, tx pgx.Tx, product *models.Product) error
	// AdjustStock adds delta to the product's stock. A result below zero is ErrOutOfStock.
	AdjustStock(ctx context.Context, tx pgx.Tx, id models.ItemID, delta int) error
}

type repository struct {
	conn   driver.PostgresPool
	cache  cache.Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, c cache.Cache, logger *zap.Logger) Repository {
	if c == nil {
		c = cache.Nop{}
	}
	return &repository{
		conn:   conn,
		cache:  c,
		logger: logger,
	}
}

const productColumns = `id, name, description, price, image, category, subcategory, rating, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	var id string
	if err := row.Scan(&id, &p.Name, &p.Description, &p.Price, &p.Image, &p.Category,
		&p.Subcategory, &p.Rating, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = models.ItemID(id)
	return &p, nil
}

func (r *repository) List(ctx context.Context, tx pgx.Tx, filter models.ProductFilter) ([]*models.Product, error) {
	category, subcategory := normalizeFilter(filter.Category), normalizeFilter(filter.Subcategory)

	cacheKey := fmt.Sprintf("products:%s:%s:%d:%d", category, subcategory, filter.Limit, filter.Offset)
	var products []*models.Product

	// 嘗試從快取中獲取
	found, err := r.cache.Get(ctx, cacheKey, &products)
	if err != nil {
		r.logger.Warn("Failed to get products from cache", zap.Error(err))
	}
	if found {
		return products, nil
	}

	query := `SELECT ` + productColumns + ` FROM products
		WHERE ($1 = '' OR category = $1) AND ($2 = '' OR subcategory = $2)
		ORDER BY length(id), id`
	args := []any{category, subcategory}
	if filter.Limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, int64(filter.Limit), int64(filter.Offset))
	}

	rows, err := driver.Conn(r.conn, tx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	products = make([]*models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			r.logger.Error("Failed to scan product", zap.Error(err))
			return nil, err
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	// 更新快取
	if err = r.cache.Set(ctx, cacheKey, products, cache.DefaultTTL); err != nil {
		r.logger.Warn("Failed to cache products", zap.Error(err))
	}

	return products, nil
}

func (r *repository) GetByID(ctx context.Context, tx pgx.Tx, id models.ItemID) (*models.Product, error) {
	cacheKey := productCacheKey(id)
	var product models.Product

	found, err := r.cache.Get(ctx, cacheKey, &product)
	if err != nil {
		r.logger.Warn("Failed to get product from cache", zap.Error(err))
	}
	if found {
		return &product, nil
	}

	p, err := scanProduct(driver.Conn(r.conn, tx).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get product", zap.String("product_id", id.String()), zap.Error(err))
		return nil, err
	}

	if err = r.cache.Set(ctx, cacheKey, p, cache.DefaultTTL); err != nil {
		r.logger.Warn("Failed to cache product", zap.Error(err))
	}

	return p, nil
}

func (r *repository) Upsert(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	_, err := driver.Conn(r.conn, tx).Exec(ctx, `
		INSERT INTO products (id, name, description, price, image, category, subcategory, rating, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
			image = EXCLUDED.image, category = EXCLUDED.category, subcategory = EXCLUDED.subcategory,
			rating = EXCLUDED.rating, stock = EXCLUDED.stock, updated_at = now()`,
		product.ID.String(), product.Name, product.Description, product.Price, product.Image,
		product.Category, product.Subcategory, product.Rating, product.Stock,
	)
	if err != nil {
		r.logger.Error("Failed to upsert product", zap.String("product_id", product.ID.String()), zap.Error(err))
		return err
	}

	r.invalidate(ctx, product.ID)
	return nil
}

func (r *repository) AdjustStock(ctx context.Context, tx pgx.Tx, id models.ItemID, delta int) error {
	tag, err := driver.Conn(r.conn, tx).Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0`,
		id.String(), delta,
	)
	if err != nil {
		r.logger.Error("Failed to adjust stock", zap.String("product_id", id.String()), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		// 區分商品不存在與庫存不足
		if _, err = r.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return ErrOutOfStock
	}

	r.invalidate(ctx, id)
	return nil
}

// invalidate drops the product entry. List pages expire on their own TTL.
func (r *repository) invalidate(ctx context.Context, id models.ItemID) {
	if err := r.cache.Delete(ctx, productCacheKey(id)); err != nil {
		r.logger.Warn("Failed to invalidate product cache", zap.String("product_id", id.String()), zap.Error(err))
	}
}

func productCacheKey(id models.ItemID) string {
	return "product:" + id.String()
}

// normalizeFilter maps "All" and blanks to no filter.
func normalizeFilter(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, allFilter) {
		return ""
	}
	return v
}

const allFilter = "All"
