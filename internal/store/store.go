// Package store persists the reconciled dataset in PostgreSQL via pgx. The
// whole dataset is replaced in one transaction; reads return stable-ordered
// snapshots for the export path.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lab330/inventory/internal/bundle"
)

// Store implements bundle.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init applies the schema DDL. Statements are idempotent.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Replace deletes every managed table child-first and inserts the survivor
// dataset parent-first, all inside one transaction. A failure at any point
// rolls the whole replacement back.
func (s *Store) Replace(ctx context.Context, data *bundle.Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range deleteOrder {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	b := &pgx.Batch{}
	queueInserts(b, data)
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}

	return tx.Commit(ctx)
}

// queueInserts adds every survivor row to the batch in parent-to-child
// order: locations/devices/users/categories, then products, then
// stocks/files/category-items, then the stock-dependent tables, then QA.
func queueInserts(b *pgx.Batch, data *bundle.Dataset) {
	for _, l := range data.Locations {
		b.Queue(`INSERT INTO locations (id, label, parent_id) VALUES ($1, $2, $3)`,
			l.ID, l.Label, l.ParentID)
	}
	for _, d := range data.Devices {
		b.Queue(`INSERT INTO devices (id, name, created_at) VALUES ($1, $2, $3)`,
			d.ID, d.Name, orNow(d.CreatedAt))
	}
	for _, u := range data.Users {
		b.Queue(`INSERT INTO users (id, username, email, password_hash, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.Username, u.Email, u.PasswordHash, orNow(u.CreatedAt))
	}
	for _, c := range data.ProductCategories {
		b.Queue(`INSERT INTO product_categories (id, name) VALUES ($1, $2)`,
			c.ID, c.Name)
	}
	for _, p := range data.Products {
		b.Queue(`INSERT INTO products (id, name, brand, model, specifications, price,
			image_link, local_image, is_property_managed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.ID, p.Name, p.Brand, p.Model, p.Specifications, p.Price,
			p.ImageLink, p.LocalImage, p.IsPropertyManaged, orNow(p.CreatedAt))
	}
	for _, pf := range data.ProductFiles {
		b.Queue(`INSERT INTO product_files (id, product_id, path, part_number,
			description, files, size_bytes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			pf.ID, pf.ProductID, pf.Path, pf.PartNumber, pf.Description,
			pf.Files, pf.SizeBytes, orNow(pf.CreatedAt), orNow(pf.UpdatedAt))
	}
	for _, st := range data.Stocks {
		b.Queue(`INSERT INTO stocks (id, product_id, location_id, current_status,
			discarded, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			st.ID, st.ProductID, st.LocationID, st.CurrentStatus, st.Discarded,
			orNow(st.CreatedAt))
	}
	for _, it := range data.ProductCategoryItems {
		b.Queue(`INSERT INTO product_category_items (category_id, product_id)
			VALUES ($1, $2)`, it.CategoryID, it.ProductID)
	}
	for _, r := range data.Rentals {
		b.Queue(`INSERT INTO rentals (id, stock_id, product_id, location_id,
			borrower, renter, loan_type, loan_date, due_date, return_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.StockID, r.ProductID, r.LocationID, r.Borrower, r.Renter,
			r.LoanType, orNow(r.LoanDate), orNow(r.DueDate), r.ReturnDate)
	}
	for _, t := range data.Transfers {
		b.Queue(`INSERT INTO transfers (id, stock_id, from_location, to_location,
			created_at) VALUES ($1, $2, $3, $4, $5)`,
			t.ID, t.StockID, t.FromLocation, t.ToLocation, orNow(t.CreatedAt))
	}
	for _, d := range data.Discarded {
		b.Queue(`INSERT INTO discarded (id, stock_id, product_id, location_id,
			discard_reason, discard_operator, discard_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, d.StockID, d.ProductID, d.LocationID, d.DiscardReason,
			d.DiscardOperator, orNow(d.DiscardDate))
	}
	for _, m := range data.Iams {
		b.Queue(`INSERT INTO iams_mappings (stock_id, iams_id) VALUES ($1, $2)`,
			m.StockID, m.IamsID)
	}
	for _, q := range data.QAItems {
		b.Queue(`INSERT INTO qa_items (id, title, tags, sort_order, content_md,
			created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.ID, q.Title, q.Tags, q.Order, q.ContentMd,
			orNow(q.CreatedAt), orNow(q.UpdatedAt))
	}
}

// orNow substitutes the current time for zero timestamps so NOT NULL columns
// never receive the Go zero time.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// Snapshot reads every managed table with the stable orderings the export
// format promises.
func (s *Store) Snapshot(ctx context.Context) (*bundle.Dataset, error) {
	data := &bundle.Dataset{}

	rows, err := s.pool.Query(ctx,
		`SELECT id, label, parent_id FROM locations ORDER BY label, id`)
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}
	for rows.Next() {
		var l bundle.Location
		if err := rows.Scan(&l.ID, &l.Label, &l.ParentID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan location: %w", err)
		}
		data.Locations = append(data.Locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, name, brand, model, specifications, price, image_link,
			local_image, is_property_managed, created_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	for rows.Next() {
		var p bundle.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Model, &p.Specifications,
			&p.Price, &p.ImageLink, &p.LocalImage, &p.IsPropertyManaged, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product: %w", err)
		}
		data.Products = append(data.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, product_id, location_id, current_status, discarded, created_at
		FROM stocks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read stocks: %w", err)
	}
	for rows.Next() {
		var st bundle.Stock
		if err := rows.Scan(&st.ID, &st.ProductID, &st.LocationID,
			&st.CurrentStatus, &st.Discarded, &st.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		data.Stocks = append(data.Stocks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stocks: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, stock_id, product_id, location_id, borrower, renter,
			loan_type, loan_date, due_date, return_date
		FROM rentals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read rentals: %w", err)
	}
	for rows.Next() {
		var r bundle.Rental
		if err := rows.Scan(&r.ID, &r.StockID, &r.ProductID, &r.LocationID,
			&r.Borrower, &r.Renter, &r.LoanType, &r.LoanDate, &r.DueDate,
			&r.ReturnDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rental: %w", err)
		}
		data.Rentals = append(data.Rentals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rentals: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, stock_id, from_location, to_location, created_at
		FROM transfers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}
	for rows.Next() {
		var t bundle.Transfer
		if err := rows.Scan(&t.ID, &t.StockID, &t.FromLocation, &t.ToLocation,
			&t.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		data.Transfers = append(data.Transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, stock_id, product_id, location_id, discard_reason,
			discard_operator, discard_date
		FROM discarded ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read discarded: %w", err)
	}
	for rows.Next() {
		var d bundle.Discarded
		if err := rows.Scan(&d.ID, &d.StockID, &d.ProductID, &d.LocationID,
			&d.DiscardReason, &d.DiscardOperator, &d.DiscardDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan discarded: %w", err)
		}
		data.Discarded = append(data.Discarded, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read discarded: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT stock_id, iams_id FROM iams_mappings ORDER BY stock_id`)
	if err != nil {
		return nil, fmt.Errorf("read iams mappings: %w", err)
	}
	for rows.Next() {
		var m bundle.IamsMapping
		if err := rows.Scan(&m.StockID, &m.IamsID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan iams mapping: %w", err)
		}
		data.Iams = append(data.Iams, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read iams mappings: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, name, created_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}
	for rows.Next() {
		var d bundle.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan device: %w", err)
		}
		data.Devices = append(data.Devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, username, email, password_hash, created_at
		FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	for rows.Next() {
		var u bundle.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
			&u.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		data.Users = append(data.Users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, name FROM product_categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read product categories: %w", err)
	}
	for rows.Next() {
		var c bundle.ProductCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product category: %w", err)
		}
		data.ProductCategories = append(data.ProductCategories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read product categories: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT category_id, product_id FROM product_category_items
		ORDER BY category_id, product_id`)
	if err != nil {
		return nil, fmt.Errorf("read product category items: %w", err)
	}
	for rows.Next() {
		var it bundle.ProductCategoryItem
		if err := rows.Scan(&it.CategoryID, &it.ProductID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product category item: %w", err)
		}
		data.ProductCategoryItems = append(data.ProductCategoryItems, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read product category items: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, product_id, path, part_number, description, files,
			size_bytes, created_at, updated_at
		FROM product_files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read product files: %w", err)
	}
	for rows.Next() {
		var pf bundle.ProductFile
		if err := rows.Scan(&pf.ID, &pf.ProductID, &pf.Path, &pf.PartNumber,
			&pf.Description, &pf.Files, &pf.SizeBytes, &pf.CreatedAt,
			&pf.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product file: %w", err)
		}
		data.ProductFiles = append(data.ProductFiles, pf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read product files: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, title, tags, sort_order, content_md, created_at, updated_at
		FROM qa_items ORDER BY sort_order, updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("read qa items: %w", err)
	}
	for rows.Next() {
		var q bundle.QAItem
		if err := rows.Scan(&q.ID, &q.Title, &q.Tags, &q.Order, &q.ContentMd,
			&q.CreatedAt, &q.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan qa item: %w", err)
		}
		data.QAItems = append(data.QAItems, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read qa items: %w", err)
	}

	return data, nil
}

// ClearProductImage nulls both image fields on one product.
func (s *Store) ClearProductImage(ctx context.Context, productID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE products SET local_image = NULL, image_link = NULL WHERE id = $1`,
		productID)
	if err != nil {
		return fmt.Errorf("clear product image: %w", err)
	}
	return nil
}

// UpdateProductFiles persists a repaired file map and recomputed size.
func (s *Store) UpdateProductFiles(ctx context.Context, id string, files map[string][]string, sizeBytes *int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE product_files SET files = $2, size_bytes = $3, updated_at = now()
		WHERE id = $1`,
		id, files, sizeBytes)
	if err != nil {
		return fmt.Errorf("update product files: %w", err)
	}
	return nil
}
