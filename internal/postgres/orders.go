package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

type OrderStore struct{ DB *pgxpool.Pool }

const orderColumns = `id, line, customer_name, customer_email, customer_phone, customer_ref,
	items, subtotal, shipping, total, currency, payment_status, status,
	COALESCE(tx_ref,''), COALESCE(gateway_session_id,''), COALESCE(gateway_tx_id,''),
	created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                           orders.Order
		line, payStatus, fulfilment string
		items                       []byte
	)
	err := row.Scan(&o.ID, &line, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.CustomerRef,
		&items, &o.Subtotal, &o.Shipping, &o.Total, &o.Currency, &payStatus, &fulfilment,
		&o.TxRef, &o.GatewaySessionID, &o.GatewayTxID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return orders.Order{}, fmt.Errorf("decode items of %s: %w", o.ID, err)
	}
	o.Line = orders.Line(line)
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.Status = orders.FulfillmentStatus(fulfilment)
	return o, nil
}

func collect(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create claims the id in issued_order_ids first; that table is never
// pruned, so ids of deleted orders stay taken.
func (s *OrderStore) Create(ctx context.Context, o orders.Order) error {
	if err := o.CheckTotals(); err != nil {
		return orders.Internal("refusing inconsistent order", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `INSERT INTO issued_order_ids(id) VALUES ($1) ON CONFLICT DO NOTHING`, o.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrDuplicateOrderID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, line, customer_name, customer_email, customer_phone, customer_ref,
			items, subtotal, shipping, total, currency, payment_status, status,
			tx_ref, gateway_session_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),NULLIF($15,''),$16,$16)`,
		o.ID, string(o.Line), o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.CustomerRef,
		items, o.Subtotal, o.Shipping, o.Total, o.Currency, string(o.PaymentStatus), string(o.Status),
		o.TxRef, o.GatewaySessionID, o.CreatedAt)
	if isUniqueViolation(err) {
		return orders.Conflict("transaction reference " + o.TxRef + " already used")
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *OrderStore) Get(ctx context.Context, line orders.Line, id string) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE line=$1 AND id=$2`, string(line), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o, err
}

func (s *OrderStore) GetByTxRef(ctx context.Context, txRef string) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tx_ref=$1`, txRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(txRef)
	}
	return o, err
}

func (s *OrderStore) List(ctx context.Context, line orders.Line, limit int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE line=$1
		ORDER BY created_at DESC LIMIT $2`, string(line), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *OrderStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE payment_status='Pending' AND tx_ref IS NOT NULL AND created_at < $1
		ORDER BY created_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *OrderStore) TransitionPayment(ctx context.Context, txRef string, from []orders.PaymentStatus, to orders.PaymentStatus, gatewayTxID string) (orders.Order, bool, error) {
	accepted := make([]string, len(from))
	for i, f := range from {
		accepted[i] = string(f)
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders SET payment_status=$3,
			gateway_tx_id = COALESCE(NULLIF($4,''), gateway_tx_id),
			updated_at = now()
		WHERE tx_ref=$1 AND payment_status = ANY($2)
		RETURNING `+orderColumns, txRef, accepted, string(to), gatewayTxID))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, false, fmt.Errorf("transition %s: %w", txRef, err)
	}
	o, err = s.GetByTxRef(ctx, txRef)
	if err != nil {
		return orders.Order{}, false, err
	}
	return o, false, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, line orders.Line, id string, from, to orders.FulfillmentStatus) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders SET status=$4, updated_at=now()
		WHERE line=$1 AND id=$2 AND status=$3
		RETURNING `+orderColumns, string(line), id, string(from), string(to)))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("update status %s: %w", id, err)
	}
	if _, err := s.Get(ctx, line, id); err != nil {
		return orders.Order{}, err
	}
	return orders.Order{}, orders.Conflict("order " + id + " status changed concurrently")
}

func (s *OrderStore) Delete(ctx context.Context, line orders.Line, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE line=$1 AND id=$2`, string(line), id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.OrderNotFound(id)
	}
	return nil
}
