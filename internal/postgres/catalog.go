package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Catalog stores products of every line in one table; each call is
// scoped by line.
type Catalog struct{ DB *pgxpool.Pool }

func (c *Catalog) Get(ctx context.Context, line orders.Line, id string) (orders.Product, error) {
	var p orders.Product
	err := c.DB.QueryRow(ctx, `
		SELECT id, name, price, stock, sales, created_at, updated_at
		FROM products WHERE line=$1 AND id=$2`, string(line), id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Sales, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ProductNotFound(id)
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	p.Line = line
	return p, nil
}

func (c *Catalog) List(ctx context.Context, line orders.Line) ([]orders.Product, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT id, name, price, stock, sales, created_at, updated_at
		FROM products WHERE line=$1 ORDER BY name`, string(line))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p := orders.Product{Line: line}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Sales, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a product row.
func (c *Catalog) Upsert(ctx context.Context, p orders.Product) error {
	_, err := c.DB.Exec(ctx, `
		INSERT INTO products(id, line, name, price, stock, sales)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (line, id) DO UPDATE
		SET name=EXCLUDED.name, price=EXCLUDED.price, stock=EXCLUDED.stock, updated_at=now()`,
		p.ID, string(p.Line), p.Name, p.Price, p.Stock, p.Sales)
	return err
}

// Reserve debits every product with a conditional update inside one
// transaction. Products are locked in id order so two carts sharing
// products cannot deadlock. Any failure rolls the whole cart back.
func (c *Catalog) Reserve(ctx context.Context, line orders.Line, attemptID string, items []orders.CartItem) ([]orders.LineItem, error) {
	need, err := orders.MergeQuantities(items)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	type priced struct {
		name  string
		price decimal.Decimal
	}
	prices := make(map[string]priced, len(ids))

	for _, id := range ids {
		qty := need[id]
		var p priced
		err := tx.QueryRow(ctx, `
			UPDATE products SET stock = stock - $3, sales = sales + $3, updated_at = now()
			WHERE line=$1 AND id=$2 AND stock >= $3
			RETURNING name, price`, string(line), id, qty).Scan(&p.name, &p.price)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, c.explainMiss(ctx, tx, line, id)
		}
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", id, err)
		}
		prices[id] = p

		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(attempt_id, line, product_id, qty, status)
			VALUES ($1,$2,$3,$4,'RESERVED')`, attemptID, string(line), id, qty); err != nil {
			if isUniqueViolation(err) {
				return nil, orders.Conflict("reservation " + attemptID + " already exists")
			}
			return nil, fmt.Errorf("record reservation %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		p := prices[it.ProductID]
		out = append(out, orders.LineItem{
			ProductID: it.ProductID, Name: p.name, Quantity: it.Quantity, UnitPrice: p.price,
		})
	}
	return out, nil
}

// explainMiss tells a missing product from one without enough stock.
func (c *Catalog) explainMiss(ctx context.Context, tx pgx.Tx, line orders.Line, id string) error {
	var name string
	var stock int
	err := tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE line=$1 AND id=$2`, string(line), id).Scan(&name, &stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ProductNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("reserve %s: %w", id, err)
	}
	return orders.InsufficientStock(id, name, stock)
}

// Release credits back only rows still RESERVED, so a second call for
// the same attempt is a no-op.
func (c *Catalog) Release(ctx context.Context, attemptID string) (bool, error) {
	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status='RELEASED', updated_at=now()
		WHERE attempt_id=$1 AND status='RESERVED'
		RETURNING line, product_id, qty`, attemptID)
	if err != nil {
		return false, err
	}
	type rec struct {
		line, pid string
		qty       int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.line, &x.pid, &x.qty); err != nil {
			rows.Close()
			return false, err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, nil
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].pid < recs[j].pid })

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $3, sales = GREATEST(sales - $3, 0), updated_at = now()
			WHERE line=$1 AND id=$2`, x.line, x.pid, x.qty); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Catalog) Confirm(ctx context.Context, attemptID, orderID string) error {
	ct, err := c.DB.Exec(ctx, `
		UPDATE reservations SET status='CONFIRMED', order_id=$2, updated_at=now()
		WHERE attempt_id=$1 AND status IN ('RESERVED','CONFIRMED')`, attemptID, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.Conflict("reservation " + attemptID + " is not active")
	}
	return nil
}
