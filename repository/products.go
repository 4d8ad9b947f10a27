package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerkean/gnizde.4ko/models"

	"github.com/lib/pq"
)

const productColumns = "id, title, slug, price_uah, category, images, description, details, delivery_info, stock, active, show_details_blocks, availability, created_at, updated_at"

type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

func scanProduct(row scanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.PriceUAH, &p.Category, pq.Array(&p.Images),
		&p.Description, &p.Details, &p.DeliveryInfo, &p.Stock, &p.Active,
		&p.ShowDetailsBlocks, &p.Availability, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return &p, nil
}

func (s *ProductStore) collect(rows *sql.Rows) ([]models.Product, error) {
	defer rows.Close()
	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// FindByIDs returns the products that exist among ids, in no particular order.
func (s *ProductStore) FindByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	return s.collect(rows)
}

func (s *ProductStore) Get(ctx context.Context, id int64) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func productWhere(f models.ProductFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.Active != nil {
		w.add("active = " + w.next(*f.Active))
	}
	if f.Category != "" {
		w.add("category = " + w.next(f.Category))
	}
	if f.Query != "" {
		p := w.next(likePattern(f.Query))
		w.add("(title ILIKE " + p + " OR slug ILIKE " + p + " OR category ILIKE " + p + ")")
	}
	return w
}

func (s *ProductStore) Count(ctx context.Context, f models.ProductFilter) (int, error) {
	w := productWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// List returns products newest first.
func (s *ProductStore) List(ctx context.Context, f models.ProductFilter, page, limit int) ([]models.Product, error) {
	w := productWhere(f)
	query := "SELECT " + productColumns + " FROM products" + w.String() +
		" ORDER BY created_at DESC LIMIT " + w.next(limit) + " OFFSET " + w.next(offset(page, limit))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return s.collect(rows)
}

func (s *ProductStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE slug = $1)", slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (s *ProductStore) Create(ctx context.Context, p *models.Product) error {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO products (title, slug, price_uah, category, images, description, details, delivery_info, stock, active, show_details_blocks, availability) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id, created_at, updated_at",
		p.Title, p.Slug, p.PriceUAH, p.Category, pq.Array(p.Images), p.Description, p.Details,
		p.DeliveryInfo, p.Stock, p.Active, p.ShowDetailsBlocks, p.Availability,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// Update overwrites every editable column of p.
func (s *ProductStore) Update(ctx context.Context, p *models.Product) error {
	err := s.db.QueryRowContext(ctx,
		"UPDATE products SET title = $1, slug = $2, price_uah = $3, category = $4, images = $5, description = $6, details = $7, delivery_info = $8, stock = $9, active = $10, show_details_blocks = $11, availability = $12, updated_at = CURRENT_TIMESTAMP WHERE id = $13 RETURNING created_at, updated_at",
		p.Title, p.Slug, p.PriceUAH, p.Category, pq.Array(p.Images), p.Description, p.Details,
		p.DeliveryInfo, p.Stock, p.Active, p.ShowDetailsBlocks, p.Availability, p.ID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
