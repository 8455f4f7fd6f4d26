package repo

import (
	"context"
	"database/sql"
	"strings"

	"freshchain/internal/domain"
)

const requestSelect = `SELECT r.request_id, r.parent_id, p.parent_batch_number, p.product_type,
  r.retailer_id, r.retailer, p.producer_id, p.producer,
  r.quantity, r.bid_price, r.currency, r.advance_percent, r.status,
  r.created_at, r.approved_at, r.child_batch_id, COALESCE(r.child_product_type,''), r.fulfilled_at,
  o.order_id, o.amount, o.currency, o.status, o.created_at, o.payment_id, o.paid_at
FROM marketplace_requests r
JOIN parent_offers p ON p.parent_id = r.parent_id
LEFT JOIN payment_orders o ON o.order_id = r.current_order_id`

func scanRequest(row rowScanner) (domain.MarketplaceRequest, error) {
	var (
		m                                 domain.MarketplaceRequest
		qty, price, advance               string
		approvedAt, childBatch, fulfilled sql.NullString
		orderID, orderCurrency, orderStat sql.NullString
		orderCreated, paymentID, paidAt   sql.NullString
		orderAmount                       sql.NullInt64
	)
	err := row.Scan(&m.RequestID, &m.ParentID, &m.ParentBatchNumber, &m.ParentProductType,
		&m.RetailerID, &m.Retailer, &m.ProducerID, &m.Producer,
		&qty, &price, &m.Currency, &advance, &m.Status,
		&m.CreatedAt, &approvedAt, &childBatch, &m.ChildProductType, &fulfilled,
		&orderID, &orderAmount, &orderCurrency, &orderStat, &orderCreated, &paymentID, &paidAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if m.Quantity, err = parseDec("quantity", qty); err != nil {
		return m, err
	}
	if m.BidPrice, err = parseDec("bid_price", price); err != nil {
		return m, err
	}
	if m.AdvancePercent, err = parseDec("advance_percent", advance); err != nil {
		return m, err
	}
	m.ApprovedAt = ptr(approvedAt)
	m.ChildBatchID = ptr(childBatch)
	m.FulfilledAt = ptr(fulfilled)
	if orderID.Valid {
		m.Payment = &domain.PaymentInfo{
			OrderID:   orderID.String,
			Amount:    orderAmount.Int64,
			Currency:  orderCurrency.String,
			Status:    orderStat.String,
			CreatedAt: orderCreated.String,
			PaymentID: ptr(paymentID),
			PaidAt:    ptr(paidAt),
		}
	}
	return m, nil
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, m domain.MarketplaceRequest) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO marketplace_requests(request_id,parent_id,retailer_id,retailer,quantity,bid_price,currency,advance_percent,status,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.RequestID, m.ParentID, m.RetailerID, m.Retailer, dec(m.Quantity), dec(m.BidPrice), m.Currency,
		dec(m.AdvancePercent), string(m.Status), m.CreatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.MarketplaceRequest, error) {
	return r.GetRequestTx(ctx, nil, id)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.MarketplaceRequest, error) {
	return scanRequest(r.q(tx).QueryRowContext(ctx, requestSelect+` WHERE r.request_id=?`, id))
}

type RequestFilters struct {
	ParentID   string
	RetailerID string
	ProducerID string
	Status     string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.MarketplaceRequest, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ParentID != "" {
		clauses = append(clauses, "r.parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.RetailerID != "" {
		clauses = append(clauses, "r.retailer_id=?")
		args = append(args, f.RetailerID)
	}
	if f.ProducerID != "" {
		clauses = append(clauses, "p.producer_id=?")
		args = append(args, f.ProducerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "r.status=?")
		args = append(args, f.Status)
	}
	query := requestSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.request_id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MarketplaceRequest{}
	for rows.Next() {
		m, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateRequestTx persists the mutable lifecycle columns of m. The current
// order is taken from m.Payment.
func (r Repo) UpdateRequestTx(ctx context.Context, tx *sql.Tx, m domain.MarketplaceRequest) error {
	var orderID any
	if m.Payment != nil {
		orderID = nullable(m.Payment.OrderID)
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE marketplace_requests SET status=?, approved_at=?, current_order_id=?, child_batch_id=?, child_product_type=?, fulfilled_at=? WHERE request_id=?`,
		string(m.Status), nullablePtr(m.ApprovedAt), orderID, nullablePtr(m.ChildBatchID),
		nullable(m.ChildProductType), nullablePtr(m.FulfilledAt), m.RequestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertPaymentOrderTx(ctx context.Context, tx *sql.Tx, requestID string, p domain.PaymentInfo) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO payment_orders(order_id,request_id,amount,currency,status,payment_id,created_at,paid_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.OrderID, requestID, p.Amount, p.Currency, p.Status, nullablePtr(p.PaymentID), p.CreatedAt, nullablePtr(p.PaidAt))
	return err
}

// SupersedeOrdersTx marks every open order of a request as superseded.
func (r Repo) SupersedeOrdersTx(ctx context.Context, tx *sql.Tx, requestID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE payment_orders SET status='superseded' WHERE request_id=? AND status='created'`, requestID)
	return err
}

func (r Repo) MarkOrderPaidTx(ctx context.Context, tx *sql.Tx, orderID, paymentID, paidAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE payment_orders SET status=?, payment_id=?, paid_at=? WHERE order_id=?`,
		string(domain.StatusPaid), paymentID, paidAt, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
